package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job cannot be found
	ErrJobNotFound = errors.New("job not found")

	// ErrAssetNotFound is returned when an asset cannot be found
	ErrAssetNotFound = errors.New("asset not found")

	// ErrIncompatibleModel is returned when the chosen model's declared
	// compatible-workflow set excludes the requested job type
	ErrIncompatibleModel = errors.New("model is not compatible with the requested job type")

	// ErrMissingInput is returned when a required input upload is absent
	// or not found on disk
	ErrMissingInput = errors.New("required input file not found")

	// ErrInsufficientCredits is returned when the caller's balance is
	// lower than the computed job cost
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTierLimitExceeded is returned when requested parameters exceed
	// the caller's tier limits
	ErrTierLimitExceeded = errors.New("requested parameters exceed tier limits")

	// ErrInvalidTransition is returned on a disallowed status change,
	// e.g. cancelling a job that is already processing
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ValidationError aggregates every violated constraint of a submission so
// the caller can fix them in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// NewValidationError builds a ValidationError from violation messages.
func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// Violationf appends a formatted violation.
func (e *ValidationError) Violationf(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// Empty reports whether no violations were recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Violations) == 0
}
