// Package dialogue talks to the conversational engine's REST webhook. The
// participant client routes messages here until a handoff activates.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Button is an optional quick-reply attached to an engine reply.
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Reply is one message returned by the engine for a user utterance.
type Reply struct {
	RecipientID string   `json:"recipient_id"`
	Text        string   `json:"text"`
	Buttons     []Button `json:"buttons,omitempty"`
}

// Client communicates with the dialogue engine's REST webhook.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given webhook URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendRequest struct {
	Sender   string         `json:"sender"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Send posts a user message and returns the engine's replies. Metadata is
// forwarded untouched; pass nil when there is none.
func (c *Client) Send(ctx context.Context, sender, message string, metadata map[string]any) ([]Reply, error) {
	body, err := json.Marshal(sendRequest{Sender: sender, Message: message, Metadata: metadata})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var replies []Reply
	if err := json.NewDecoder(resp.Body).Decode(&replies); err != nil {
		return nil, fmt.Errorf("decoding replies: %w", err)
	}
	return replies, nil
}

// IsRunning returns true if the engine answers the webhook URL at all.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
