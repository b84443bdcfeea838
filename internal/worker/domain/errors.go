package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that is
	// not in queued status. Covers both races with other workers and jobs
	// cancelled while waiting in the queue.
	ErrJobAlreadyClaimed = errors.New("job already claimed or no longer queued")

	// ErrInvalidPayload is returned when job params JSON is malformed
	ErrInvalidPayload = errors.New("invalid job params")

	// ErrMaxRetriesExceeded is returned when a job has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrExecutionTimeout is returned when the engine does not finish within
	// the execution wall clock budget
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrNoOutput is returned when a completed execution produced no artifacts
	ErrNoOutput = errors.New("execution produced no output")
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
