// Package api exposes the relay protocol over HTTP. Participant routes are
// unauthenticated (the participant is anonymous by design); operator routes
// sit behind the service bearer token with actor identity in headers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Deps struct {
	Relay *relay.Service
	Token string
}

// NewHandler builds the full relay router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	// Participant surface: actor is always the anonymous user role.
	r.Post("/handoff/active", handleActive(deps))
	r.Get("/handoff/messages", handleReadSince(deps))
	r.Post("/handoff/messages", handleAppend(deps, false))
	r.Post("/handoff/requests/{id}/status", handleTransition(deps, false))

	// Operator surface.
	r.Route("/operator", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/requests", handleQueue(deps))
		r.Get("/messages", handleReadSince(deps))
		r.Post("/messages", handleAppend(deps, true))
		r.Post("/requests/{id}/status", handleTransition(deps, true))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type activeRequest struct {
	ConversationID string                  `json:"conversation_id"`
	Context        relay.EscalationContext `json:"context"`
}

func handleActive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req activeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ConversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
			return
		}

		request, err := deps.Relay.CreateOrGetActive(req.ConversationID, req.Context)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(request)
	}
}

func handleQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		switch status {
		case "", storage.StatusOpen, storage.StatusAssigned, storage.StatusClosed:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid status filter %q", status)
			return
		}

		entries, err := deps.Relay.List(status, operatorActor(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if entries == nil {
			entries = []relay.QueueEntry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"requests": entries})
	}
}

func handleReadSince(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := parseInt64Param(r, "request_id")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		afterID, _ := strconv.ParseInt(r.URL.Query().Get("after_id"), 10, 64)

		messages, err := deps.Relay.ReadSince(requestID, afterID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if messages == nil {
			messages = []storage.HandoffMessage{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"messages": messages})
	}
}

type appendRequest struct {
	RequestID int64  `json:"request_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

func handleAppend(deps Deps, operator bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req appendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		actor := relay.Actor{Role: relay.RoleUser}
		if operator {
			actor = operatorActor(r)
		}

		message, err := deps.Relay.AppendMessage(req.RequestID, req.Sender, req.Text, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(message)
	}
}

type transitionRequest struct {
	Status               string `json:"status"`
	SuppressCloseMessage bool   `json:"suppress_close_message"`
}

func handleTransition(deps Deps, operator bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request id")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		actor := relay.Actor{Role: relay.RoleUser}
		if operator {
			actor = operatorActor(r)
		}

		request, err := deps.Relay.Transition(requestID, req.Status, actor, relay.TransitionOpts{
			SuppressCloseMessage: req.SuppressCloseMessage,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(request)
	}
}

// writeServiceError maps relay/storage sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "request not found")
	case errors.Is(err, relay.ErrAssignmentConflict):
		httpError(w, http.StatusForbidden, "assignment_conflict", "%v", err)
	case errors.Is(err, relay.ErrClosed):
		httpError(w, http.StatusConflict, "request_closed", "%v", err)
	case errors.Is(err, relay.ErrReopenExpired):
		httpError(w, http.StatusConflict, "reopen_expired", "%v", err)
	case errors.Is(err, relay.ErrInvalidTransition),
		errors.Is(err, relay.ErrInvalidSender),
		errors.Is(err, relay.ErrActorRequired):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseInt64Param(r *http.Request, key string) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}
