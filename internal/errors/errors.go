package errors

import (
	"fmt"
)

// ReviewError is the structured error type for vetrail.
// It provides rich context for error handling, logging, and chunk-result reporting.
type ReviewError struct {
	// Code is the unique error code (e.g., "ERR_201_INVALID_DIFF").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Input, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *ReviewError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ReviewError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ReviewError.
func (e *ReviewError) Is(target error) bool {
	if t, ok := target.(*ReviewError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ReviewError) WithDetail(key, value string) *ReviewError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new ReviewError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ReviewError {
	return &ReviewError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ReviewError from an existing error.
// The error's message becomes the ReviewError message.
func Wrap(code string, err error) *ReviewError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidDiffError creates the run-fatal error for empty or unparseable diff input.
func InvalidDiffError(message string, cause error) *ReviewError {
	return New(ErrCodeInvalidDiff, message, cause)
}

// RetrievalError creates an error for rule-index unavailability.
func RetrievalError(message string, cause error) *ReviewError {
	return New(ErrCodeRetrieval, message, cause)
}

// ReviewParseError creates an error for engine output that stayed
// unusable after the single repair attempt.
func ReviewParseError(message string, cause error) *ReviewError {
	return New(ErrCodeReviewParse, message, cause)
}

// TimeoutError creates an error for an outbound call that exceeded its deadline.
func TimeoutError(message string, cause error) *ReviewError {
	return New(ErrCodeTimeout, message, cause)
}

// PublishError creates an error for a rejected comment post.
// The underlying finding stays postable; the caller may retry.
func PublishError(message string, cause error) *ReviewError {
	return New(ErrCodePublish, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ReviewError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a ReviewError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*ReviewError); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the run before any chunk is created.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*ReviewError); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a ReviewError.
// Returns empty string if not a ReviewError.
func GetCode(err error) string {
	if re, ok := err.(*ReviewError); ok {
		return re.Code
	}
	return ""
}
