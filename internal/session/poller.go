package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/crisos/relayd/internal/storage"
)

// MessageReader fetches messages after a cursor for a handoff request.
type MessageReader interface {
	ReadSince(ctx context.Context, requestID, afterID int64) ([]storage.HandoffMessage, error)
}

// Poller polls a handoff thread at a fixed cadence and delivers fresh
// messages over a channel. One poller serves one request; cancel the context
// to stop it.
type Poller struct {
	session *Session
	reader  MessageReader
	poll    time.Duration
	logger  *slog.Logger

	messages chan []storage.HandoffMessage
}

// NewPoller creates a Poller over the session's active request.
// If pollInterval is <= 0, it defaults to 2s.
func NewPoller(sess *Session, reader MessageReader, pollInterval time.Duration) *Poller {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Poller{
		session:  sess,
		reader:   reader,
		poll:     pollInterval,
		logger:   slog.Default(),
		messages: make(chan []storage.HandoffMessage, 8),
	}
}

// Messages is the delivery channel. It is closed when Run returns.
func (p *Poller) Messages() <-chan []storage.HandoffMessage {
	return p.messages
}

// Run polls until ctx is cancelled or the session deactivates. A failed
// poll is logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.messages)
	for {
		if ctx.Err() != nil || !p.session.Active() {
			return
		}

		if err := p.RunOnce(ctx); err != nil {
			p.logger.Warn("message poll failed", "request_id", p.session.RequestID(), "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// RunOnce performs a single poll, absorbing the batch into the session and
// delivering anything new.
func (p *Poller) RunOnce(ctx context.Context) error {
	requestID := p.session.RequestID()
	if requestID == 0 {
		return nil
	}

	batch, err := p.reader.ReadSince(ctx, requestID, p.session.Cursor())
	if err != nil {
		return err
	}

	fresh := p.session.Absorb(batch)
	if len(fresh) == 0 {
		return nil
	}

	select {
	case p.messages <- fresh:
	case <-ctx.Done():
	}
	return nil
}
