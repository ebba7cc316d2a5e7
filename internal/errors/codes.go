// Package errors provides structured error handling for vetrail.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Diff and input errors
//   - 3XX: Network and provider errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryInput indicates diff and input errors.
	CategoryInput Category = "INPUT"
	// CategoryNetwork indicates network and provider errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error that aborts the run.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but siblings can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Diff and input errors (200-299)
	ErrCodeInvalidDiff   = "ERR_201_INVALID_DIFF"
	ErrCodeEmptyRulebook = "ERR_202_EMPTY_RULEBOOK"

	// Network and provider errors (300-399)
	ErrCodeRetrieval = "ERR_301_RETRIEVAL"
	ErrCodeTimeout   = "ERR_302_TIMEOUT"
	ErrCodePublish   = "ERR_303_PUBLISH"
	ErrCodeProvider  = "ERR_304_PROVIDER"
	ErrCodeSCM       = "ERR_305_SCM"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeReviewParse  = "ERR_402_REVIEW_PARSE"
	ErrCodeRunNotFound  = "ERR_403_RUN_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeAnchorDetect = "ERR_502_ANCHOR_DETECT"
	ErrCodeIndexFailed  = "ERR_503_INDEX_FAILED"
	ErrCodeStoreFailed  = "ERR_504_STORE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the leading digit of the numeric portion (e.g., "2" from "ERR_201_INVALID_DIFF")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryInput
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
	// InvalidDiff is run-fatal: no chunks exist yet, nothing to isolate.
	if code == ErrCodeInvalidDiff {
		return SeverityFatal
	}

	// Retryable network errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRetrieval, ErrCodeTimeout, ErrCodePublish, ErrCodeProvider, ErrCodeSCM, ErrCodeRunNotFound:
		return true
	default:
		return false
	}
}
