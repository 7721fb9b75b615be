// Package errors provides structured error handling for quarry.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store/index errors
//   - 3XX: Backend and network errors
//   - 4XX: Query validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates metadata store and index errors.
	CategoryStore Category = "STORE"
	// CategoryBackend indicates search backend and network errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates query validation errors.
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreIO      = "ERR_201_STORE_IO"
	ErrCodeIndexLocked  = "ERR_202_INDEX_LOCKED"
	ErrCodeCorruptIndex = "ERR_203_CORRUPT_INDEX"

	// Backend errors (300-399)
	ErrCodeRetrievalTimeout     = "ERR_301_RETRIEVAL_TIMEOUT"
	ErrCodeRetrievalUnavailable = "ERR_302_RETRIEVAL_UNAVAILABLE"
	ErrCodeBackendUnreachable   = "ERR_303_BACKEND_UNREACHABLE"
	ErrCodeExpansionFailed      = "ERR_304_EXPANSION_FAILED"
	ErrCodeEmbeddingFailed      = "ERR_305_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidQuery = "ERR_401_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_402_QUERY_EMPTY"
	ErrCodeQueryTooLong = "ERR_403_QUERY_TOO_LONG"
	ErrCodeInvalidScope = "ERR_404_INVALID_SCOPE"
	ErrCodeInvalidAlpha = "ERR_405_INVALID_ALPHA"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeFusionFailed = "ERR_502_FUSION_FAILED"
	ErrCodeCacheFailed  = "ERR_503_CACHE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "301" from "ERR_301_RETRIEVAL_TIMEOUT")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	// Retryable backend errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// RetrievalUnavailable is deliberately not retryable: both backends already
// failed after their own retry budgets, the caller should surface the failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRetrievalTimeout, ErrCodeBackendUnreachable, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
