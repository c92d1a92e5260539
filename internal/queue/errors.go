// Package queue - errors.go
// Centralized, comparable error values used across the engine and stores.
package queue

// qerr is a lightweight comparable error type.
// Using constants of this type allows errors.Is to work as expected.
type qerr string

func (e qerr) Error() string { return string(e) }

var (
	ErrQueueExists     = qerr("queue already exists")
	ErrQueueNotFound   = qerr("queue not found")
	ErrQueueFull       = qerr("queue is full")
	ErrAlreadyQueued   = qerr("already in queue")
	ErrNotQueued       = qerr("member not in queue")
	ErrSurfaceNotFound = qerr("display not found")
	ErrInvalidArgument = qerr("invalid argument")

	// transient, callers may retry the whole operation
	ErrSurfaceUnavailable = qerr("display surface unavailable")
	ErrStoreUnavailable   = qerr("store unavailable")
)
