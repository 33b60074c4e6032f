// Package session holds the participant-side handoff state: the active
// request, the read cursor, echo suppression for the participant's own
// messages, and the crash-recovery guard.
package session

import (
	"sync"

	"github.com/crisos/relayd/internal/storage"
)

// maxPendingIDs bounds the echo-suppression set. Ids at or below the cursor
// are pruned on every poll, so the set only grows past a handful when polls
// are failing.
const maxPendingIDs = 64

// Session tracks one conversation's handoff state.
type Session struct {
	mu sync.Mutex

	conversationID string
	active         bool
	requestID      int64
	cursor         int64
	pendingIDs     map[int64]struct{}
}

// New creates an inactive session for a conversation.
func New(conversationID string) *Session {
	return &Session{
		conversationID: conversationID,
		pendingIDs:     make(map[int64]struct{}),
	}
}

// ConversationID returns the conversation this session belongs to.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Activate flips the session into handoff mode for the given request,
// resetting the cursor so the full thread is fetched on the next poll.
func (s *Session) Activate(requestID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.requestID = requestID
	s.cursor = 0
	s.pendingIDs = make(map[int64]struct{})
}

// Deactivate ends handoff mode.
func (s *Session) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Active reports whether the handoff path is live.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// RequestID returns the active handoff request id, or 0 when inactive.
func (s *Session) RequestID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0
	}
	return s.requestID
}

// Cursor returns the id of the last message absorbed into the session.
func (s *Session) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// TrackOwn records a server-assigned id for a message this session already
// rendered locally, so its poll echo is dropped. Dedup is strictly by id,
// never by text.
func (s *Session) TrackOwn(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingIDs) >= maxPendingIDs {
		// Drop the oldest tracked id. A dropped id means one duplicate
		// render, not lost data.
		var oldest int64 = -1
		for tracked := range s.pendingIDs {
			if oldest < 0 || tracked < oldest {
				oldest = tracked
			}
		}
		delete(s.pendingIDs, oldest)
	}
	s.pendingIDs[id] = struct{}{}
}

// Absorb advances the cursor past a batch of polled messages and returns
// the ones the session has not rendered yet. Own echoes are filtered by id;
// tracked ids at or below the new cursor are pruned.
func (s *Session) Absorb(messages []storage.HandoffMessage) []storage.HandoffMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []storage.HandoffMessage
	for _, m := range messages {
		if m.ID > s.cursor {
			s.cursor = m.ID
		}
		if _, own := s.pendingIDs[m.ID]; own {
			delete(s.pendingIDs, m.ID)
			continue
		}
		fresh = append(fresh, m)
	}

	for id := range s.pendingIDs {
		if id <= s.cursor {
			delete(s.pendingIDs, id)
		}
	}
	return fresh
}
