package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError represents a failed API attempt with classification context.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassForbidden:
		// Permanent access denial; retrying cannot help
		return false
	case ErrorClassQuota:
		// Rate limited; retried after rotation and cool-down
		return true
	case ErrorClassTransient:
		// Other HTTP or GraphQL errors; retried with backoff
		return true
	case ErrorClassNetwork:
		// Transport failures; retried with backoff
		return true
	default:
		return false
	}
}
