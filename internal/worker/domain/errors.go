package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTaskType is returned when no handler is registered for a job's task type
	ErrUnknownTaskType = errors.New("no handler registered for task type")

	// ErrDuplicateHandler is returned when a second handler is registered for a task type
	ErrDuplicateHandler = errors.New("handler already registered for task type")

	// ErrInvalidPayload is returned when job variables are malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrOutcomeAlreadyReported is returned when a second outcome is reported for the same job attempt
	ErrOutcomeAlreadyReported = errors.New("outcome already reported for job")

	// ErrHandlerTimeout is returned when a handler does not finish before the job timeout
	ErrHandlerTimeout = errors.New("handler timed out")

	// ErrHandlerPanic is returned when a handler panics
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrCorrelationMiss is returned when a published message found no waiting process instance
	ErrCorrelationMiss = errors.New("correlation miss")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is or wraps a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// BusinessError is a terminal domain condition the process model branches on.
// Handlers return it to have the job reported as a named error event instead of
// a technical failure. It is never retried.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("business error %s: %s", e.Code, e.Message)
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string) error {
	return &BusinessError{Code: code, Message: message}
}

// AsBusinessError extracts a BusinessError from err's chain
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
