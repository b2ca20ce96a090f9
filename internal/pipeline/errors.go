package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure for the retry policy.
type ErrorKind string

const (
	// ErrorTransient failures (timeouts, unreachable model services) are
	// retried with exponential backoff up to the attempt ceiling.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent failures (malformed or empty input) fail immediately.
	ErrorPermanent ErrorKind = "permanent"
	// ErrorUpstream marks a component whose dependency failed; it is never
	// executed.
	ErrorUpstream ErrorKind = "upstream_failure"
	// ErrorAggregation marks inconsistent state detected while finalizing a
	// task. It is never silently swallowed.
	ErrorAggregation ErrorKind = "aggregation_error"
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Error {
	return &Error{Kind: ErrorTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, err error) *Error {
	return &Error{Kind: ErrorPermanent, Op: op, Err: err}
}

// Aggregation wraps err as an aggregation inconsistency.
func Aggregation(op string, err error) *Error {
	return &Error{Kind: ErrorAggregation, Op: op, Err: err}
}

// Classify returns the error kind used by the retry policy. Deadline
// expiry is transient; unclassified errors default to transient because
// retrying an idempotent executor is always safe.
func Classify(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	return ErrorTransient
}
