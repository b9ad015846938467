package sluice

import (
	"errors"
	"fmt"
)

// ErrArtifactNotFound is returned by ArtifactStore.Get for an unknown digest.
// It is local to the caller and is not retried automatically.
var ErrArtifactNotFound = errors.New("sluice: artifact not found")

// ErrNoHandler is returned when no handler is registered for a task's payload
// type. The task is left unacked for reclaim.
var ErrNoHandler = errors.New("sluice: no handler for payload type")

// ErrEmptyResult is returned when a handler produces no result bytes; it is
// treated as a handler failure.
var ErrEmptyResult = errors.New("sluice: empty handler result")

// ErrUnknownPayloadType is returned when an envelope carries a type tag
// outside the closed variant set.
var ErrUnknownPayloadType = errors.New("sluice: unknown payload type")

// ErrUnknownStatus is returned when an invalid status value is parsed.
var ErrUnknownStatus = errors.New("sluice: unknown status")

// QueueUnavailableError wraps a transient Redis failure. Call sites retry it
// with bounded exponential backoff; a task is never silently dropped on it.
type QueueUnavailableError struct {
	// Op names the failed queue operation (e.g. "XADD").
	Op  string
	Err error
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("sluice: queue unavailable during %s: %v", e.Op, e.Err)
}

func (e *QueueUnavailableError) Unwrap() error { return e.Err }

// IsQueueUnavailable reports whether err is (or wraps) a QueueUnavailableError.
func IsQueueUnavailable(err error) bool {
	var q *QueueUnavailableError
	return errors.As(err, &q)
}

// PartialCompletionError reports a fan-in that timed out before every
// expected completion signal arrived. It carries the signals that did arrive
// and the batch indices that never reported, so the caller can decide to
// re-dispatch just those batches.
type PartialCompletionError struct {
	RunID    string
	Expected int
	// Missing lists the batch indices with no completion signal.
	Missing []int
	// Signals holds the distinct signals received before the timeout.
	Signals []CompletionSignal
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("sluice: run %s completed partially: %d/%d signals, missing batches %v",
		e.RunID, len(e.Signals), e.Expected, e.Missing)
}
