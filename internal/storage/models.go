package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with the partial unique
// index guaranteeing at most one non-closed request per conversation.
var ErrConflict = errors.New("active request already exists")

// Request statuses.
const (
	StatusOpen     = "open"
	StatusAssigned = "assigned"
	StatusClosed   = "closed"
)

// Message senders.
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// HandoffRequest is an escalated conversation awaiting or undergoing
// operator attention. Closed requests are kept forever; only status moves.
type HandoffRequest struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Status         string    `json:"status"`
	RiskScore      int       `json:"risk_score"`
	CrisisType     string    `json:"crisis_type"`
	UserStatus     string    `json:"user_status"`
	UserChannel    string    `json:"user_channel"`
	AssignedTo     string    `json:"assigned_to,omitempty"`
	SummaryJSON    string    `json:"summary_json,omitempty"`
	ClosedAt       time.Time `json:"closed_at,omitempty"`

	// Last-message fields are populated by ListRequests only and back the
	// queue's "new activity" indicator.
	LastMessageID     int64     `json:"last_message_id,omitempty"`
	LastMessageSender string    `json:"last_message_sender,omitempty"`
	LastMessageAt     time.Time `json:"last_message_at,omitempty"`
}

// HandoffMessage is one entry in a request's thread. Messages are append-only
// and their server-assigned ids define the poll cursor ordering.
type HandoffMessage struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"request_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows ListRequests. The zero value lists everything.
type ListFilter struct {
	// Status restricts to a single status when non-empty.
	Status string
	// VisibleTo, when non-empty, applies operator visibility: open requests
	// plus requests assigned to that operator.
	VisibleTo string
}
