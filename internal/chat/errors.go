// Package chat owns conversation state and the relay to the upstream
// CDSS generative backend.
package chat

import (
	"errors"
	"fmt"
)

// Validation failures are recoverable by the caller and leave state
// untouched.
var (
	// ErrEmptyPrompt is returned when a submitted prompt is empty after
	// trimming.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrRequestInFlight is returned when a turn is submitted while the
	// previous one is still awaiting its response. At most one request
	// may be in flight per session; concurrent submits are rejected, not
	// queued.
	ErrRequestInFlight = errors.New("a request is already in flight for this session")
)

// ValidationError wraps a local input failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransportError indicates the upstream backend could not be reached.
// It is never retried automatically.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "backend unreachable: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError indicates the upstream backend answered with a
// non-success status. Detail carries the upstream "detail" field when
// present.
type BackendError struct {
	Status int
	Detail string
}

func (e *BackendError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}
