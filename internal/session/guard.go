package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/crisos/relayd/internal/storage"
)

// teardownTimeout bounds the best-effort close on shutdown. Shutdown never
// waits longer than this for the server.
const teardownTimeout = 2 * time.Second

// Transitioner moves a handoff request between statuses.
type Transitioner interface {
	Transition(ctx context.Context, requestID int64, status string, suppressCloseMessage bool) (*storage.HandoffRequest, error)
}

// Guard implements the session-continuity protocol: an abrupt client exit
// closes the request best-effort but leaves a local marker, and the next
// startup for the same conversation revives the request without the
// misleading "session closed" notice appearing in the thread.
type Guard struct {
	dir    string
	client Transitioner
	logger *slog.Logger
}

// NewGuard creates a Guard writing markers under dataDir/sessions.
func NewGuard(dataDir string, client Transitioner) *Guard {
	return &Guard{
		dir:    filepath.Join(dataDir, "sessions"),
		client: client,
		logger: slog.Default(),
	}
}

func (g *Guard) markerPath(conversationID string) string {
	return filepath.Join(g.dir, conversationID+".reopen")
}

// Teardown records a reopen marker for the conversation and fires a
// best-effort close of its request. It never blocks longer than the
// teardown timeout; a failed close just means the request stays open.
func (g *Guard) Teardown(conversationID string, requestID int64) {
	if err := g.writeMarker(conversationID, requestID); err != nil {
		g.logger.Warn("writing reopen marker failed", "conversation_id", conversationID, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if _, err := g.client.Transition(ctx, requestID, storage.StatusClosed, false); err != nil {
		g.logger.Warn("best-effort close failed", "request_id", requestID, "error", err)
	}
}

func (g *Guard) writeMarker(conversationID string, requestID int64) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return err
	}
	data := strconv.FormatInt(requestID, 10) + "\n"
	return os.WriteFile(g.markerPath(conversationID), []byte(data), 0o600)
}

// PendingReopen returns the request id from a leftover marker, consuming
// the marker either way. ok is false when no marker exists.
func (g *Guard) PendingReopen(conversationID string) (requestID int64, ok bool) {
	path := g.markerPath(conversationID)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	os.Remove(path)

	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Recover checks for a reopen marker and, if present, revives the request
// with the closure notice suppressed. It returns the revived request, or
// nil when there is nothing to recover or the server refused, in which
// case the caller proceeds with a normal startup.
func (g *Guard) Recover(ctx context.Context, conversationID string) *storage.HandoffRequest {
	requestID, ok := g.PendingReopen(conversationID)
	if !ok {
		return nil
	}

	request, err := g.client.Transition(ctx, requestID, storage.StatusOpen, true)
	if err != nil {
		// Reopen window expired or the request was closed for real.
		g.logger.Info("session recovery declined", "request_id", requestID, "error", err)
		return nil
	}

	g.logger.Info("session recovered", "conversation_id", conversationID, "request_id", request.ID)
	return request
}

// ClearMarker drops any leftover marker for a conversation. Used when the
// participant ends the session deliberately.
func (g *Guard) ClearMarker(conversationID string) {
	if err := os.Remove(g.markerPath(conversationID)); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("removing reopen marker failed", "error", fmt.Errorf("%s: %w", conversationID, err))
	}
}
