package relay

import "errors"

var (
	// ErrClosed is returned on writes to a closed request.
	ErrClosed = errors.New("request is closed")

	// ErrAssignmentConflict is returned when a non-admin operator acts on a
	// request assigned to somebody else.
	ErrAssignmentConflict = errors.New("request assigned to another operator")

	// ErrInvalidTransition is returned for edges outside the request state
	// machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidSender is returned for senders outside user/agent/system.
	ErrInvalidSender = errors.New("invalid sender")

	// ErrReopenExpired is returned when a closed request is past the reopen
	// window and the recovery flow tries to revive it.
	ErrReopenExpired = errors.New("reopen window expired")

	// ErrActorRequired is returned when a transition to assigned carries no
	// operator identity.
	ErrActorRequired = errors.New("operator identity required")
)
