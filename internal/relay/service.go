// Package relay implements the handoff protocol layer: the request state
// machine, assignment rules, and the cursor-based message relay between a
// person in a crisis conversation and a human operator.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crisos/relayd/internal/storage"
)

// Role classifies an actor for the assignment rule. Authentication happens
// upstream; the relay only enforces what an authenticated actor may do.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated identity behind a relay call.
type Actor struct {
	Name string
	Role Role
}

func (a Actor) admin() bool { return a.Role == RoleAdmin }

// System notice texts. The closure notice text doubles as the deletion key
// for suppressed reopens, so it must stay stable.
const (
	NoticeEscalated = "Escalation created. Waiting for operator assignment."
	NoticeClosed    = "User left the chat. Session closed."
)

func noticeJoined(operator string) string {
	return fmt.Sprintf("Operator %s joined the chat.", operator)
}

// EscalationContext is the classification snapshot supplied when a
// conversation escalates.
type EscalationContext struct {
	RiskScore   int    `json:"risk_score"`
	CrisisType  string `json:"crisis_type"`
	UserStatus  string `json:"user_status"`
	UserChannel string `json:"user_channel"`
	SummaryJSON string `json:"summary_json"`
}

// hasClassification reports whether the context carries actual classification
// data, as opposed to a bare re-resolve that only knows the channel.
func (ec EscalationContext) hasClassification() bool {
	return ec.RiskScore != 0 || ec.CrisisType != "" || ec.UserStatus != "" || ec.SummaryJSON != ""
}

// TransitionOpts modifies a status transition.
type TransitionOpts struct {
	// SuppressCloseMessage skips the closure notice when closing, and deletes
	// an already-stored closure notice when reopening (the reload-recovery
	// path, where the prior teardown was not a real session end).
	SuppressCloseMessage bool
}

// QueueEntry is a request decorated for the operator queue.
type QueueEntry struct {
	storage.HandoffRequest
	RiskIndicator int       `json:"risk_indicator"`
	RiskLevel     RiskLevel `json:"risk_level"`
	// NewActivity flags an assigned request whose latest message came from
	// the user, i.e. the user replied since the operator last engaged.
	NewActivity bool `json:"new_activity"`
}

// Service is the stateless relay protocol layer over the store.
type Service struct {
	store        *storage.Store
	reopenWindow time.Duration
	activate     singleflight.Group
	logger       *slog.Logger
}

// DefaultReopenWindow bounds how long a closed request can be revived by the
// session-continuity recovery flow.
const DefaultReopenWindow = 15 * time.Minute

// NewService creates a Service. A reopenWindow <= 0 falls back to
// DefaultReopenWindow.
func NewService(store *storage.Store, reopenWindow time.Duration) *Service {
	if reopenWindow <= 0 {
		reopenWindow = DefaultReopenWindow
	}
	return &Service{
		store:        store,
		reopenWindow: reopenWindow,
		logger:       slog.Default(),
	}
}

// CreateOrGetActive returns the non-closed request for a conversation,
// creating one in state "open" if none exists. Idempotent: concurrent calls
// for the same conversation collapse to one flight, and the partial unique
// index backstops races across processes. An existing request gets its
// classification context refreshed when the caller supplies one.
func (s *Service) CreateOrGetActive(conversationID string, ec EscalationContext) (storage.HandoffRequest, error) {
	v, err, _ := s.activate.Do(conversationID, func() (any, error) {
		return s.createOrGetActive(conversationID, ec)
	})
	if err != nil {
		return storage.HandoffRequest{}, err
	}
	return v.(storage.HandoffRequest), nil
}

func (s *Service) createOrGetActive(conversationID string, ec EscalationContext) (storage.HandoffRequest, error) {
	existing, err := s.store.ActiveRequestByConversation(conversationID)
	if err == nil {
		// A re-resolve that carries no classification (a reconnecting client
		// only knows its channel) must not wipe the stored snapshot.
		if !ec.hasClassification() {
			return existing, nil
		}
		if err := s.store.UpdateRequestContext(existing.ID, ec.RiskScore, ec.CrisisType, ec.UserStatus, ec.UserChannel, ec.SummaryJSON); err != nil {
			return storage.HandoffRequest{}, fmt.Errorf("refreshing request context: %w", err)
		}
		return s.store.GetRequest(existing.ID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.HandoffRequest{}, err
	}

	created, err := s.store.CreateRequest(storage.HandoffRequest{
		ConversationID: conversationID,
		RiskScore:      ec.RiskScore,
		CrisisType:     ec.CrisisType,
		UserStatus:     ec.UserStatus,
		UserChannel:    ec.UserChannel,
		SummaryJSON:    ec.SummaryJSON,
	})
	if errors.Is(err, storage.ErrConflict) {
		// Lost the race to another writer; their request is the active one.
		return s.store.ActiveRequestByConversation(conversationID)
	}
	if err != nil {
		return storage.HandoffRequest{}, err
	}

	if _, err := s.store.AppendMessage(storage.HandoffMessage{
		RequestID: created.ID,
		Sender:    storage.SenderSystem,
		Text:      NoticeEscalated,
	}); err != nil {
		return storage.HandoffRequest{}, fmt.Errorf("appending escalation notice: %w", err)
	}

	s.logger.Info("handoff request created",
		"request_id", created.ID,
		"conversation_id", conversationID,
		"crisis_type", ec.CrisisType,
		"user_status", ec.UserStatus,
	)
	return created, nil
}

// Get returns a single request by id.
func (s *Service) Get(requestID int64) (storage.HandoffRequest, error) {
	return s.store.GetRequest(requestID)
}

// List returns the operator queue. Non-admin operators see open requests
// plus their own assignments; admins (and status-filtered views) see
// everything matching the filter.
func (s *Service) List(status string, actor Actor) ([]QueueEntry, error) {
	filter := storage.ListFilter{Status: status}
	if actor.Role == RoleOperator {
		filter.VisibleTo = actor.Name
	}
	requests, err := s.store.ListRequests(filter)
	if err != nil {
		return nil, err
	}

	entries := make([]QueueEntry, 0, len(requests))
	for _, r := range requests {
		indicator, level := NormalizeRisk(r.UserStatus, r.RiskScore)
		entries = append(entries, QueueEntry{
			HandoffRequest: r,
			RiskIndicator:  indicator,
			RiskLevel:      level,
			NewActivity:    r.Status == storage.StatusAssigned && r.LastMessageSender == storage.SenderUser,
		})
	}
	return entries, nil
}

// Transition moves a request along the state machine, enforcing the
// assignment rule. Closing an already closed request is an idempotent no-op.
func (s *Service) Transition(requestID int64, target string, actor Actor, opts TransitionOpts) (storage.HandoffRequest, error) {
	r, err := s.store.GetRequest(requestID)
	if err != nil {
		return storage.HandoffRequest{}, err
	}

	switch target {
	case storage.StatusAssigned:
		if actor.Name == "" {
			return storage.HandoffRequest{}, ErrActorRequired
		}
		if r.Status == storage.StatusClosed {
			return storage.HandoffRequest{}, ErrInvalidTransition
		}
		if err := s.checkAssignment(r, actor); err != nil {
			return storage.HandoffRequest{}, err
		}
		fresh := r.Status != storage.StatusAssigned || r.AssignedTo != actor.Name
		if err := s.store.AssignRequest(r.ID, actor.Name); err != nil {
			return storage.HandoffRequest{}, err
		}
		if fresh {
			if _, err := s.store.AppendMessage(storage.HandoffMessage{
				RequestID: r.ID,
				Sender:    storage.SenderSystem,
				Text:      noticeJoined(actor.Name),
			}); err != nil {
				return storage.HandoffRequest{}, fmt.Errorf("appending join notice: %w", err)
			}
		}

	case storage.StatusOpen:
		switch r.Status {
		case storage.StatusOpen:
			return r, nil
		case storage.StatusClosed:
			// Continuity recovery: revive a recently closed request. Admins
			// are exempt from the window.
			if !actor.admin() && time.Since(r.ClosedAt) > s.reopenWindow {
				return storage.HandoffRequest{}, ErrReopenExpired
			}
			if opts.SuppressCloseMessage {
				if err := s.store.DeleteSystemMessage(r.ID, NoticeClosed); err != nil {
					return storage.HandoffRequest{}, fmt.Errorf("removing closure notice: %w", err)
				}
			}
			if err := s.store.ReopenRequest(r.ID); err != nil {
				return storage.HandoffRequest{}, err
			}
			s.logger.Info("handoff request reopened", "request_id", r.ID, "suppressed_notice", opts.SuppressCloseMessage)
		case storage.StatusAssigned:
			if err := s.checkAssignment(r, actor); err != nil {
				return storage.HandoffRequest{}, err
			}
			if err := s.store.ReopenRequest(r.ID); err != nil {
				return storage.HandoffRequest{}, err
			}
		}

	case storage.StatusClosed:
		if r.Status == storage.StatusClosed {
			return r, nil
		}
		if err := s.checkAssignment(r, actor); err != nil {
			return storage.HandoffRequest{}, err
		}
		if err := s.store.CloseRequest(r.ID, time.Now()); err != nil {
			return storage.HandoffRequest{}, err
		}
		if !opts.SuppressCloseMessage {
			// The one write a closed request accepts: the closure notice
			// emitted by the close itself.
			if _, err := s.store.AppendMessage(storage.HandoffMessage{
				RequestID: r.ID,
				Sender:    storage.SenderSystem,
				Text:      NoticeClosed,
			}); err != nil {
				return storage.HandoffRequest{}, fmt.Errorf("appending closure notice: %w", err)
			}
		}
		s.logger.Info("handoff request closed", "request_id", r.ID, "actor", actor.Name)

	default:
		return storage.HandoffRequest{}, ErrInvalidTransition
	}

	return s.store.GetRequest(requestID)
}

// AppendMessage appends to a request's thread. Writes to closed requests are
// rejected. An agent reply to an open request assigns it to the sending
// operator.
func (s *Service) AppendMessage(requestID int64, sender, text string, actor Actor) (storage.HandoffMessage, error) {
	switch sender {
	case storage.SenderUser, storage.SenderAgent, storage.SenderSystem:
	default:
		return storage.HandoffMessage{}, ErrInvalidSender
	}

	r, err := s.store.GetRequest(requestID)
	if err != nil {
		return storage.HandoffMessage{}, err
	}
	if r.Status == storage.StatusClosed {
		return storage.HandoffMessage{}, ErrClosed
	}

	if sender == storage.SenderAgent {
		if err := s.checkAssignment(r, actor); err != nil {
			return storage.HandoffMessage{}, err
		}
		if r.Status == storage.StatusOpen && actor.Name != "" {
			if err := s.store.AssignRequest(r.ID, actor.Name); err != nil {
				return storage.HandoffMessage{}, err
			}
			if _, err := s.store.AppendMessage(storage.HandoffMessage{
				RequestID: r.ID,
				Sender:    storage.SenderSystem,
				Text:      noticeJoined(actor.Name),
			}); err != nil {
				return storage.HandoffMessage{}, fmt.Errorf("appending join notice: %w", err)
			}
		}
	}

	return s.store.AppendMessage(storage.HandoffMessage{
		RequestID: requestID,
		Sender:    sender,
		Text:      text,
	})
}

// ReadSince returns all messages of a request with id > afterID, ascending.
// This is the sole pagination primitive: a client advancing afterID to the
// highest returned id enumerates the thread exactly once with no gaps.
func (s *Service) ReadSince(requestID, afterID int64) ([]storage.HandoffMessage, error) {
	if _, err := s.store.GetRequest(requestID); err != nil {
		return nil, err
	}
	return s.store.MessagesSince(requestID, afterID)
}

// checkAssignment enforces the exclusivity rule: only the assigned operator
// (or an admin) may act on an assigned request. Participants acting on their
// own request are not subject to it.
func (s *Service) checkAssignment(r storage.HandoffRequest, actor Actor) error {
	if actor.Role != RoleOperator {
		return nil
	}
	if r.AssignedTo != "" && r.AssignedTo != actor.Name {
		return ErrAssignmentConflict
	}
	return nil
}
