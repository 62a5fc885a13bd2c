package errors

import (
	"fmt"
)

// ThothError is the structured error type for Thoth.
// It provides rich context for error handling, logging, and API responses.
type ThothError struct {
	// Code is the unique error code (e.g., "ERR_101_BAD_SOURCE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
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
func (e *ThothError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ThothError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ThothError.
func (e *ThothError) Is(target error) bool {
	if t, ok := target.(*ThothError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ThothError) WithDetail(key, value string) *ThothError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new ThothError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ThothError {
	return &ThothError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ThothError from an existing error.
// The error's message becomes the ThothError message.
func Wrap(code string, err error) *ThothError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// BadSource creates an unknown-source error carrying the valid source list.
func BadSource(name string, known []string) *ThothError {
	e := New(ErrCodeBadSource, fmt.Sprintf("unknown source %q", name), nil)
	e.WithDetail("source", name)
	for i, k := range known {
		e.WithDetail(fmt.Sprintf("known_%d", i), k)
	}
	return e
}

// BadRequest creates a missing/invalid request parameter error.
func BadRequest(message string) *ThothError {
	return New(ErrCodeBadRequest, message, nil)
}

// ParseError creates a malformed-input error for a parser.
func ParseError(message string, cause error) *ThothError {
	return New(ErrCodeParseFailed, message, cause)
}

// NotFound creates a file-not-found error.
func NotFound(path string, cause error) *ThothError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), cause).
		WithDetail("path", path)
}

// ChunkerConfig creates a chunker configuration error.
func ChunkerConfig(message string) *ThothError {
	return New(ErrCodeChunkerConfig, message, nil)
}

// InvalidInput creates a validation error.
func InvalidInput(message string) *ThothError {
	return New(ErrCodeInvalidInput, message, nil)
}

// ObjectStoreError wraps an object storage I/O failure.
func ObjectStoreError(message string, cause error) *ThothError {
	return New(ErrCodeObjectStore, message, cause)
}

// JobStoreError wraps a job store failure.
func JobStoreError(message string, cause error) *ThothError {
	return New(ErrCodeJobStore, message, cause)
}

// QueueError wraps a task queue failure.
func QueueError(message string, cause error) *ThothError {
	return New(ErrCodeQueue, message, cause)
}

// MergeError wraps a per-batch merge failure. Non-fatal for the run.
func MergeError(batchURI string, cause error) *ThothError {
	return Wrap(ErrCodeMergeFailed, cause).WithDetail("batch_uri", batchURI)
}

// Internal creates an internal error.
func Internal(message string, cause error) *ThothError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a ThothError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*ThothError); ok {
		return te.Retryable
	}
	return false
}

// GetCode extracts the error code from a ThothError.
// Returns empty string if not a ThothError.
func GetCode(err error) string {
	if te, ok := err.(*ThothError); ok {
		return te.Code
	}
	return ""
}

// GetCategory extracts the category from a ThothError.
// Returns empty string if not a ThothError.
func GetCategory(err error) Category {
	if te, ok := err.(*ThothError); ok {
		return te.Category
	}
	return ""
}
