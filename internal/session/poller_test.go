package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crisos/relayd/internal/storage"
)

// scriptedReader returns one batch per call, then empty batches.
type scriptedReader struct {
	mu      sync.Mutex
	batches [][]storage.HandoffMessage
	afterID []int64
	err     error
}

func (r *scriptedReader) ReadSince(ctx context.Context, requestID, afterID int64) ([]storage.HandoffMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterID = append(r.afterID, afterID)
	if r.err != nil {
		err := r.err
		r.err = nil
		return nil, err
	}
	if len(r.batches) == 0 {
		return nil, nil
	}
	batch := r.batches[0]
	r.batches = r.batches[1:]
	return batch, nil
}

func TestPollerDeliversFresh(t *testing.T) {
	s := New("conv-1")
	s.Activate(1)
	s.TrackOwn(2)

	reader := &scriptedReader{batches: [][]storage.HandoffMessage{
		{msg(1, storage.SenderAgent, "hello"), msg(2, storage.SenderUser, "hi")},
	}}
	p := NewPoller(s, reader, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case fresh := <-p.Messages():
		if len(fresh) != 1 || fresh[0].ID != 1 {
			t.Errorf("fresh = %+v, want only id 1", fresh)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestPollerAdvancesCursor(t *testing.T) {
	s := New("conv-1")
	s.Activate(1)

	reader := &scriptedReader{batches: [][]storage.HandoffMessage{
		{msg(1, storage.SenderAgent, "a")},
		{msg(2, storage.SenderAgent, "b")},
	}}
	p := NewPoller(s, reader, time.Millisecond)

	ctx := context.Background()
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.afterID) != 2 || reader.afterID[0] != 0 || reader.afterID[1] != 1 {
		t.Errorf("afterID sequence = %v, want [0 1]", reader.afterID)
	}
}

func TestPollerAbsorbsFailure(t *testing.T) {
	s := New("conv-1")
	s.Activate(1)

	reader := &scriptedReader{
		err:     errors.New("connection refused"),
		batches: [][]storage.HandoffMessage{{msg(1, storage.SenderAgent, "a")}},
	}
	p := NewPoller(s, reader, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case fresh := <-p.Messages():
		if len(fresh) != 1 {
			t.Errorf("fresh = %+v", fresh)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not recover after failed poll")
	}
}

func TestPollerStopsOnDeactivate(t *testing.T) {
	s := New("conv-1")
	s.Activate(1)

	p := NewPoller(s, &scriptedReader{}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	s.Deactivate()

	select {
	case _, open := <-p.Messages():
		if open {
			t.Error("unexpected delivery after deactivate")
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after deactivate")
	}
}
