// Package errs collects the sentinel errors shared across the replica,
// queue, transport, and relay packages.
package errs

import "errors"

var (
	// ErrMalformedOperation is returned when an operation is missing
	// required fields or carries an invalid position identifier.
	ErrMalformedOperation = errors.New("malformed operation")

	// ErrInvalidIndex is returned when a local edit targets an index
	// outside the live sequence's bounds.
	ErrInvalidIndex = errors.New("invalid index")

	// ErrInvalidBounds is returned when allocateBetween is called with
	// lo >= hi, violating the algebra's precondition.
	ErrInvalidBounds = errors.New("invalid position bounds")

	// ErrQueueClosed names use of a closed durable queue. queue.Queue has
	// no Close method and does not return it.
	ErrQueueClosed = errors.New("queue closed")

	// ErrSessionClosed names use of a transport session after Close.
	// transport.Session does not return it: Send after Close enqueues
	// operations like any other non-Connected state.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownParticipant names a relay participant that has already
	// disconnected. The relay does not return it.
	ErrUnknownParticipant = errors.New("unknown participant")
)
