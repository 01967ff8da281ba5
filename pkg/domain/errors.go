package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store,
// including sessions that were deleted.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when creating a session under an ID already in use.
var ErrSessionExists = errors.New("session already exists")

// ErrBusy is returned when a run is requested for a session that is already running.
var ErrBusy = errors.New("session is busy")

// ErrStageCommitted is returned when a stage result is written twice.
var ErrStageCommitted = errors.New("stage result already committed")

// ErrNotTerminal is returned when an audit is requested before a run has finished.
var ErrNotTerminal = errors.New("session has not reached a terminal status")

// ErrInvalidTransition is returned when a mutation is not allowed in the current status.
var ErrInvalidTransition = errors.New("invalid session transition")

// ErrDocumentNotFound is returned by document stores for unknown keys.
var ErrDocumentNotFound = errors.New("document not found")

// ValidationError rejects an input before any session exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// StageError is a failure raised by a stage executor.
// Retryable failures are attempted again under the retry policy.
type StageError struct {
	Stage     Stage
	Retryable bool
	Message   string
	Err       error
}

func (e *StageError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Stage == "" {
		return fmt.Sprintf("%s stage error: %s", kind, e.Message)
	}
	return fmt.Sprintf("%s stage error in %s: %s", kind, e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError with a formatted message.
func NewStageError(stage Stage, retryable bool, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Retryable: retryable, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether err carries a retryable StageError.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
