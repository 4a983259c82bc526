package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNoData       = errors.New("no data")
	ErrCohortLocked = errors.New("cohort is already being processed")
	ErrInvalidGene  = errors.New("invalid gene name")
)

// FormatError reports a structurally invalid input file. It is not
// retryable without a corrected file.
type FormatError struct {
	Path   string
	Reason string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid TSV format: %s", e.Reason)
	}
	return fmt.Sprintf("invalid TSV format in %s: %s", e.Path, e.Reason)
}

// Retryable is always false for format errors.
func (e *FormatError) Retryable() bool { return false }

// NewFormatError creates a FormatError for path.
func NewFormatError(path, reason string) *FormatError {
	return &FormatError{Path: path, Reason: reason}
}

// IsRetryable reports whether the operation that failed with err may
// succeed when attempted again. Errors that do not say otherwise are.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// PersistenceError reports a failed batch commit. Batches committed before
// it remain stored.
type PersistenceError struct {
	Batch     int
	Committed int
	Err       error
}

// Error implements the error interface
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting batch %d failed after %d committed records: %v", e.Batch, e.Committed, e.Err)
}

// Unwrap returns the underlying sink error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNoData        = "NO_DATA"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeDatabaseError = "DATABASE_ERROR"
	ErrCodeInternal      = "INTERNAL_SERVER_ERROR"
	ErrCodeFormat        = "FORMAT_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
