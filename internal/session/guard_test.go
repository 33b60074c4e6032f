package session

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/storage"
)

type transitionCall struct {
	requestID int64
	status    string
	suppress  bool
}

type fakeTransitioner struct {
	mu    sync.Mutex
	calls []transitionCall
	err   error
}

func (f *fakeTransitioner) Transition(ctx context.Context, requestID int64, status string, suppress bool) (*storage.HandoffRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transitionCall{requestID, status, suppress})
	if f.err != nil {
		return nil, f.err
	}
	return &storage.HandoffRequest{ID: requestID, Status: status}, nil
}

func TestTeardownClosesAndLeavesMarker(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTransitioner{}
	g := NewGuard(dir, ft)

	g.Teardown("conv-1", 42)

	if len(ft.calls) != 1 {
		t.Fatalf("got %d transition calls, want 1", len(ft.calls))
	}
	if c := ft.calls[0]; c.requestID != 42 || c.status != storage.StatusClosed || c.suppress {
		t.Errorf("close call = %+v", c)
	}

	id, ok := g.PendingReopen("conv-1")
	if !ok || id != 42 {
		t.Errorf("marker round-trip gave %d/%v, want 42/true", id, ok)
	}
	// Consumed on read.
	if _, ok := g.PendingReopen("conv-1"); ok {
		t.Error("marker not consumed")
	}
}

func TestTeardownSurvivesServerFailure(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTransitioner{err: relay.ErrReopenExpired}
	g := NewGuard(dir, ft)

	g.Teardown("conv-1", 42)

	if _, ok := g.PendingReopen("conv-1"); !ok {
		t.Error("marker missing after failed close")
	}
}

func TestRecoverRevivesWithSuppressedNotice(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTransitioner{}
	g := NewGuard(dir, ft)

	g.Teardown("conv-1", 42)
	request := g.Recover(context.Background(), "conv-1")
	if request == nil {
		t.Fatal("Recover returned nil")
	}
	if request.ID != 42 || request.Status != storage.StatusOpen {
		t.Errorf("recovered request = %+v", request)
	}

	reopen := ft.calls[len(ft.calls)-1]
	if reopen.status != storage.StatusOpen || !reopen.suppress {
		t.Errorf("reopen call = %+v, want open with suppressed notice", reopen)
	}
}

func TestRecoverFallsBackWhenServerRefuses(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir, &fakeTransitioner{})
	g.Teardown("conv-1", 42)

	refusing := &fakeTransitioner{err: relay.ErrReopenExpired}
	g2 := NewGuard(dir, refusing)
	if request := g2.Recover(context.Background(), "conv-1"); request != nil {
		t.Errorf("Recover = %+v, want nil on refusal", request)
	}
	// Marker is consumed either way; the next startup is normal.
	if _, ok := g2.PendingReopen("conv-1"); ok {
		t.Error("marker survived refused recovery")
	}
}

func TestRecoverWithoutMarker(t *testing.T) {
	g := NewGuard(t.TempDir(), &fakeTransitioner{})
	if request := g.Recover(context.Background(), "conv-1"); request != nil {
		t.Errorf("Recover = %+v, want nil without marker", request)
	}
}

func TestCorruptMarkerIgnored(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir, &fakeTransitioner{})
	g.Teardown("conv-1", 42)

	if err := os.WriteFile(g.markerPath("conv-1"), []byte("garbage\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.PendingReopen("conv-1"); ok {
		t.Error("corrupt marker accepted")
	}
}

func TestClearMarker(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir, &fakeTransitioner{})
	g.Teardown("conv-1", 42)
	g.ClearMarker("conv-1")
	if _, ok := g.PendingReopen("conv-1"); ok {
		t.Error("marker survived ClearMarker")
	}
}
