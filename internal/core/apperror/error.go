// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business and interception errors use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal   = "INTERNAL_ERROR"
	CodeDatabase   = "DATABASE_ERROR"
	CodeServerBusy = "SERVER_BUSY"

	// Interception errors
	CodeMethodResolution             = "METHOD_RESOLUTION_ERROR"
	CodeTransactionalOperationFailed = "TRANSACTIONAL_OPERATION_FAILED"
	CodeInvalidInvocation            = "INVALID_INVOCATION"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Business rule violations (422)
	CodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Too many requests (429)
	CodeRateLimited = "RATE_LIMITED"
)

// AppError is the standard error type for the service.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (method, phase, amounts, etc.)
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

// --- Factory functions ---

// NewMethodResolution reports that a method has no matching declaration on the
// target's concrete type. It is a setup defect, hence 500.
func NewMethodResolution(typeName, method string) *AppError {
	return &AppError{
		Code:       CodeMethodResolution,
		Message:    fmt.Sprintf("method %s is not declared on %s", method, typeName),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"type": typeName, "method": method},
	}
}

// NewTransactionalOperationFailed wraps the failure of a transactional method or of
// its commit. The HTTP status follows the cause when the cause is an AppError.
func NewTransactionalOperationFailed(method, phase string, cause error, rolledBack bool) *AppError {
	status := http.StatusInternalServerError
	if appErr, ok := AsAppError(cause); ok && appErr.HTTPStatus != 0 {
		status = appErr.HTTPStatus
	}
	return &AppError{
		Code:       CodeTransactionalOperationFailed,
		Message:    fmt.Sprintf("transactional operation %s failed", method),
		HTTPStatus: status,
		Details: map[string]any{
			"method":      method,
			"phase":       phase,
			"rolled_back": rolledBack,
		},
		Err: cause,
	}
}

// NewInvalidInvocation creates an error for arguments that do not fit a method signature.
func NewInvalidInvocation(method, reason string) *AppError {
	return &AppError{
		Code:       CodeInvalidInvocation,
		Message:    fmt.Sprintf("invalid invocation of %s: %s", method, reason),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"method": method},
	}
}

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInsufficientFunds creates a balance shortage error (422)
func NewInsufficientFunds(accountID string, requested, available string) *AppError {
	return &AppError{
		Code:       CodeInsufficientFunds,
		Message:    "Insufficient funds",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"account_id": accountID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Please retry.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
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

// NewServerBusy is returned when the worker pool and its accept queue are full.
func NewServerBusy() *AppError {
	return &AppError{
		Code:       CodeServerBusy,
		Message:    "Server is busy, try again later",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewRateLimited creates a rate limit error (429)
func NewRateLimited() *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "Too many requests",
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// --- Helper functions ---

// AsAppError extracts the outermost AppError from error chain
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

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		appErr, ok := AsAppError(err)
		if !ok {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsMethodResolution checks if error is CodeMethodResolution
func IsMethodResolution(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeMethodResolution
	}
	return false
}

// IsTransactionalOperationFailed checks if error is CodeTransactionalOperationFailed
func IsTransactionalOperationFailed(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeTransactionalOperationFailed
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsInsufficientFunds checks the chain for CodeInsufficientFunds
func IsInsufficientFunds(err error) bool {
	return HasCode(err, CodeInsufficientFunds)
}
