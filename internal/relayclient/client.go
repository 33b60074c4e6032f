// Package relayclient is a typed HTTP client for the relay API, shared by
// the CLI commands, the participant session layer, and both terminal UIs.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/storage"
)

const (
	headerActor = "X-Relay-Actor"
	headerRole  = "X-Relay-Role"
)

// APIError is the server's typed error body, surfaced with its HTTP status.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// Client talks to a relayd server.
type Client struct {
	baseURL    string
	token      string
	actor      relay.Actor
	httpClient *http.Client
}

// New creates a participant-side client: no token, anonymous user actor.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		actor:      relay.Actor{Role: relay.RoleUser},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewOperator creates an operator-side client carrying the bearer token and
// the acting operator's identity.
func NewOperator(baseURL, token string, actor relay.Actor) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		actor:      actor,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) operator() bool {
	return c.actor.Role != relay.RoleUser
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.operator() {
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set(headerActor, c.actor.Name)
		req.Header.Set(headerRole, string(c.actor.Role))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable — is relayd running? (%w)", err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Type: "api_error"}
		var body struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
			apiErr.Type = body.Error.Type
			apiErr.Message = body.Error.Message
		}
		return apiErr
	}
	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// prefix returns the route prefix for the client's surface.
func (c *Client) prefix() string {
	if c.operator() {
		return "/operator"
	}
	return "/handoff"
}

// Active acquires or creates the active handoff request for a conversation.
func (c *Client) Active(ctx context.Context, conversationID string, ectx relay.EscalationContext) (*storage.HandoffRequest, error) {
	resp, err := c.do(ctx, http.MethodPost, "/handoff/active", map[string]any{
		"conversation_id": conversationID,
		"context":         ectx,
	})
	if err != nil {
		return nil, err
	}
	var request storage.HandoffRequest
	if err := decodeJSON(resp, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

// Queue lists handoff requests visible to the acting operator, optionally
// filtered by status.
func (c *Client) Queue(ctx context.Context, status string) ([]relay.QueueEntry, error) {
	path := "/operator/requests"
	if status != "" {
		path += "?status=" + status
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Requests []relay.QueueEntry `json:"requests"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Requests, nil
}

// ReadSince returns messages with id greater than afterID for a request.
func (c *Client) ReadSince(ctx context.Context, requestID, afterID int64) ([]storage.HandoffMessage, error) {
	path := fmt.Sprintf("%s/messages?request_id=%d&after_id=%d", c.prefix(), requestID, afterID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Messages []storage.HandoffMessage `json:"messages"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// Append writes a message into a handoff thread and returns it with its
// server-assigned id.
func (c *Client) Append(ctx context.Context, requestID int64, sender, text string) (*storage.HandoffMessage, error) {
	resp, err := c.do(ctx, http.MethodPost, c.prefix()+"/messages", map[string]any{
		"request_id": requestID,
		"sender":     sender,
		"text":       text,
	})
	if err != nil {
		return nil, err
	}
	var message storage.HandoffMessage
	if err := decodeJSON(resp, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// Transition moves a request to the given status.
func (c *Client) Transition(ctx context.Context, requestID int64, status string, suppressCloseMessage bool) (*storage.HandoffRequest, error) {
	path := fmt.Sprintf("%s/requests/%d/status", c.prefix(), requestID)
	resp, err := c.do(ctx, http.MethodPost, path, map[string]any{
		"status":                 status,
		"suppress_close_message": suppressCloseMessage,
	})
	if err != nil {
		return nil, err
	}
	var request storage.HandoffRequest
	if err := decodeJSON(resp, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

// Health reports whether the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
