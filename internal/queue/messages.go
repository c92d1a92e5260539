package queue

import "errors"

// UserMessage maps an engine error to the text shown to a member.
// Transient failures never expose their detail.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyQueued):
		return "You're already in this queue."
	case errors.Is(err, ErrNotQueued):
		return "That member is not in this queue."
	case errors.Is(err, ErrQueueFull):
		return "This queue is full."
	case errors.Is(err, ErrQueueNotFound):
		return "That channel is not a queue."
	case errors.Is(err, ErrQueueExists):
		return "That channel is already a queue."
	case errors.Is(err, ErrSurfaceNotFound):
		return "There is no queue display here."
	case errors.Is(err, ErrInvalidArgument):
		return "Invalid value."
	case errors.Is(err, ErrStoreUnavailable):
		return "The queue database is not answering, try again in a moment."
	case errors.Is(err, ErrSurfaceUnavailable):
		return "The queue display could not be updated, try again in a moment."
	default:
		return "Something went wrong, try again."
	}
}
