// Package apperror provides structured error handling for the versioning engine.
// All engine errors must use AppError so callers can branch on machine-readable codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the engine's error taxonomy
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeStore    = "STORE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Batch application conflicts (409)
	CodeScopeConflict  = "SCOPE_CONFLICT"
	CodeDuplicateBatch = "DUPLICATE_BATCH"

	// Post-commit invariant breaches (422)
	CodeIntegrityViolation = "INTEGRITY_VIOLATION"
	CodeReadBlocked        = "READ_BLOCKED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"
)

// AppError is the standard error type for the engine.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (business key, batch id, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400).
// Used when a record cannot be canonicalized (bad type, encoding failure).
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, key any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "key": key},
	}
}

// NewScopeConflict is returned when the advisory lock for an entity scope is
// held by a concurrent batch. The batch is rejected whole; the caller retries.
func NewScopeConflict(scope string) *AppError {
	return &AppError{
		Code:       CodeScopeConflict,
		Message:    "another batch is in flight for this entity scope",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"scope": scope},
	}
}

// NewDuplicateBatch is returned when a batch id is already applied.
// Not strictly an error for callers doing idempotent retry, but surfaced
// so they can distinguish a replay from a fresh apply.
func NewDuplicateBatch(batchID string) *AppError {
	return &AppError{
		Code:       CodeDuplicateBatch,
		Message:    "batch already applied",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"batch_id": batchID},
	}
}

// NewIntegrityViolation is returned when a post-commit invariant check fails.
// Already-committed data is not rolled back; affected keys are read-blocked.
func NewIntegrityViolation(message string) *AppError {
	return &AppError{
		Code:       CodeIntegrityViolation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewReadBlocked is returned when a key is flagged by the validator and
// downstream reads are refused pending repair.
func NewReadBlocked(businessKey string) *AppError {
	return &AppError{
		Code:       CodeReadBlocked,
		Message:    "key is blocked pending integrity repair",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"business_key": businessKey},
	}
}

// NewStore creates a fatal storage error. The batch is marked FAILED in the
// checkpoint store and is safe to retry in full.
func NewStore(err error) *AppError {
	return &AppError{
		Code:       CodeStore,
		Message:    "storage operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsScopeConflict checks if error is CodeScopeConflict
func IsScopeConflict(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeScopeConflict
	}
	return false
}

// IsValidation checks if error is CodeValidation
func IsValidation(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeValidation
	}
	return false
}
