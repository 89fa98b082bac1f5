package splat

import (
	"errors"
	"fmt"
	"time"
)

// SubmissionError reports that the backend rejected a job at submit time
// or was unreachable.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit splat job: %s: %v", e.Reason, e.Err)
	}
	return "submit splat job: " + e.Reason
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// GenerationError reports a terminal backend failure, carrying the
// backend-supplied message when one was given.
type GenerationError struct {
	RequestID string
	Message   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("splat job %s: %s", e.RequestID, e.Message)
}

// TimeoutError reports that no terminal state was reached within budget.
// The tracker entry is intentionally left in place for manual reaping.
type TimeoutError struct {
	RequestID string
	Budget    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("splat job %s: no terminal state within %s", e.RequestID, e.Budget)
}

// transientError marks a status-query failure that must not move the poll
// state machine; the query is retried on the next scheduled tick.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient classifies a status-query error as retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
