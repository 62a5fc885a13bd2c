// Package errors provides structured error handling for Thoth.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and request errors
//   - 2XX: IO errors (file, parse)
//   - 3XX: Network errors (object store, job store, queue)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration and request errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and parse errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates errors against external services.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Configuration and request errors (100-199)
	ErrCodeBadSource     = "ERR_101_BAD_SOURCE"
	ErrCodeBadRequest    = "ERR_102_BAD_REQUEST"
	ErrCodeChunkerConfig = "ERR_103_CHUNKER_CONFIG"
	ErrCodeConfigInvalid = "ERR_104_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeParseFailed  = "ERR_202_PARSE_FAILED"

	// Network errors (300-399)
	ErrCodeObjectStore    = "ERR_301_OBJECT_STORE"
	ErrCodeJobStore       = "ERR_302_JOB_STORE"
	ErrCodeQueue          = "ERR_303_QUEUE"
	ErrCodeNetworkTimeout = "ERR_304_NETWORK_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeMergeFailed     = "ERR_503_MERGE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the leading digit of the numeric portion (e.g. "1" from "ERR_101_BAD_SOURCE")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Merge failures are per-batch and never abort the run.
	if code == ErrCodeMergeFailed {
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeObjectStore, ErrCodeJobStore, ErrCodeQueue, ErrCodeNetworkTimeout:
		return true
	default:
		return false
	}
}
