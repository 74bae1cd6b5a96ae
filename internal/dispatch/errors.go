package dispatch

import "errors"

// Domain-specific errors for dispatcher operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownTarget is returned when an intent addresses an entity
	// the registry does not know.
	ErrUnknownTarget = errors.New("dispatch: unknown target entity")

	// ErrNoAdapter is returned when no adapter is registered for the
	// target's adapter ID.
	ErrNoAdapter = errors.New("dispatch: no adapter registered")

	// ErrQueueFull is returned when the target's pending queue is at
	// capacity. The intent was not enqueued; the caller decides whether
	// to back off or drop.
	ErrQueueFull = errors.New("dispatch: target queue full")

	// ErrClosed is returned when submitting to a dispatcher that has
	// been shut down.
	ErrClosed = errors.New("dispatch: dispatcher closed")

	// ErrNotPending is returned by Cancel for an intent that is not
	// in flight or queued.
	ErrNotPending = errors.New("dispatch: intent not pending")
)
