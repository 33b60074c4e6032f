package storage

import (
	"fmt"
	"testing"
	"time"
)

func mustCreate(t *testing.T, s *Store, conv string) HandoffRequest {
	t.Helper()
	r, err := s.CreateRequest(HandoffRequest{ConversationID: conv})
	if err != nil {
		t.Fatalf("CreateRequest(%s): %v", conv, err)
	}
	return r
}

func mustAppend(t *testing.T, s *Store, requestID int64, sender, text string) HandoffMessage {
	t.Helper()
	m, err := s.AppendMessage(HandoffMessage{RequestID: requestID, Sender: sender, Text: text})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	return m
}

func TestMessageIDsMonotonic(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, "conv-a")
	b := mustCreate(t, s, "conv-b")

	var last int64
	for i := 0; i < 5; i++ {
		req := a
		if i%2 == 1 {
			req = b
		}
		m := mustAppend(t, s, req.ID, SenderUser, fmt.Sprintf("msg %d", i))
		if m.ID <= last {
			t.Fatalf("message id %d not greater than previous %d", m.ID, last)
		}
		last = m.ID
	}
}

// TestMessagesSinceCursor walks the thread with an advancing cursor and
// verifies every message is seen exactly once, in order, with no gaps.
func TestMessagesSinceCursor(t *testing.T) {
	s := openTestStore(t)
	r := mustCreate(t, s, "conv-1")

	var want []int64
	for i := 0; i < 10; i++ {
		m := mustAppend(t, s, r.ID, SenderUser, fmt.Sprintf("m%d", i))
		want = append(want, m.ID)
	}

	var got []int64
	var cursor int64
	for {
		batch, err := s.MessagesSince(r.ID, cursor)
		if err != nil {
			t.Fatalf("MessagesSince: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, m := range batch {
			if m.ID <= cursor {
				t.Fatalf("message %d at or below cursor %d", m.ID, cursor)
			}
			got = append(got, m.ID)
			cursor = m.ID
		}
	}

	if len(got) != len(want) {
		t.Fatalf("enumerated %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got id %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMessagesSinceScopedToRequest(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, "conv-a")
	b := mustCreate(t, s, "conv-b")

	mustAppend(t, s, a.ID, SenderUser, "for a")
	other := mustAppend(t, s, b.ID, SenderUser, "for b")

	msgs, err := s.MessagesSince(a.ID, 0)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	for _, m := range msgs {
		if m.ID == other.ID {
			t.Errorf("message from another request leaked into thread: %+v", m)
		}
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestDeleteSystemMessage(t *testing.T) {
	s := openTestStore(t)
	r := mustCreate(t, s, "conv-1")

	mustAppend(t, s, r.ID, SenderSystem, "User left the chat. Session closed.")
	keep := mustAppend(t, s, r.ID, SenderUser, "User left the chat. Session closed.")

	if err := s.DeleteSystemMessage(r.ID, "User left the chat. Session closed."); err != nil {
		t.Fatalf("DeleteSystemMessage: %v", err)
	}

	msgs, err := s.MessagesSince(r.ID, 0)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != keep.ID {
		t.Errorf("only the user message should survive, got %+v", msgs)
	}
}

func TestListRequestsOrdering(t *testing.T) {
	s := openTestStore(t)

	low, err := s.CreateRequest(HandoffRequest{ConversationID: "low", RiskScore: 10, UserStatus: "trapped_safe"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	// Zero score but emergency: sorts as 90.
	forced, err := s.CreateRequest(HandoffRequest{ConversationID: "forced", RiskScore: 0, UserStatus: "emergency"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	high, err := s.CreateRequest(HandoffRequest{ConversationID: "high", RiskScore: 75, UserStatus: "trapped_safe"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	assigned := mustCreate(t, s, "assigned")
	if err := s.AssignRequest(assigned.ID, "op-a"); err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}

	list, err := s.ListRequests(ListFilter{})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("got %d requests, want 4", len(list))
	}
	wantOrder := []int64{assigned.ID, forced.ID, high.ID, low.ID}
	for i, want := range wantOrder {
		if list[i].ID != want {
			t.Errorf("position %d: got request %d, want %d", i, list[i].ID, want)
		}
	}
}

func TestListRequestsOperatorVisibility(t *testing.T) {
	s := openTestStore(t)

	open := mustCreate(t, s, "open-conv")
	mine := mustCreate(t, s, "mine-conv")
	if err := s.AssignRequest(mine.ID, "op-a"); err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}
	theirs := mustCreate(t, s, "theirs-conv")
	if err := s.AssignRequest(theirs.ID, "op-b"); err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}
	closed := mustCreate(t, s, "closed-conv")
	if err := s.CloseRequest(closed.ID, time.Now()); err != nil {
		t.Fatalf("CloseRequest: %v", err)
	}

	list, err := s.ListRequests(ListFilter{VisibleTo: "op-a"})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}

	seen := map[int64]bool{}
	for _, r := range list {
		seen[r.ID] = true
	}
	if !seen[open.ID] || !seen[mine.ID] {
		t.Errorf("operator should see open and own assigned requests, got %v", seen)
	}
	if seen[theirs.ID] || seen[closed.ID] {
		t.Errorf("operator should not see others' or closed requests, got %v", seen)
	}
}

func TestListRequestsLastMessage(t *testing.T) {
	s := openTestStore(t)
	r := mustCreate(t, s, "conv-1")

	mustAppend(t, s, r.ID, SenderAgent, "hello")
	last := mustAppend(t, s, r.ID, SenderUser, "need help")

	list, err := s.ListRequests(ListFilter{})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d requests, want 1", len(list))
	}
	if list[0].LastMessageID != last.ID || list[0].LastMessageSender != SenderUser {
		t.Errorf("last message fields wrong: %+v", list[0])
	}
	if list[0].LastMessageAt.IsZero() {
		t.Error("last_message_at not populated")
	}
}
