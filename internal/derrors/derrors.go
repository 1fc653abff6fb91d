// Package derrors provides structured error types for the dashboard core.
package derrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrUnavailable   = errors.New("service unavailable")
	ErrTimeout       = errors.New("operation timed out")
)

// RateLimitError is returned when an action is rejected by a cooldown.
// RetryAfter is the remaining wait before the action is permitted again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("cooldown active, retry in %s", e.RetryAfter.Round(time.Second))
}

// AsRateLimit extracts a RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// NotFoundf wraps ErrNotFound with a formatted description.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidInputf wraps ErrInvalidInput with a formatted description.
func InvalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidInput)...)
}

// AlreadyExistsf wraps ErrAlreadyExists with a formatted description.
func AlreadyExistsf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrAlreadyExists)...)
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	if _, ok := AsRateLimit(err); ok {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
