package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Operation-specific error codes.
const (
	ErrMalformedOperation   = "MALFORMED_OPERATION"
	ErrAutoRunChainLimit    = "AUTO_RUN_CHAIN_LIMIT"
	ErrConfirmationRequired = "CONFIRMATION_REQUIRED"
)

// ErrorEnvelope is the standard error envelope returned by the gateway and
// used internally for classified failures. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"traceId,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError creates a CONFLICT error envelope.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The operations backend is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The operations backend did not respond in time",
	}
}

// NewMalformedOperationError returns a MALFORMED_OPERATION error.
func NewMalformedOperationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrMalformedOperation, Message: msg}
}

// NewAutoRunChainLimitError returns an AUTO_RUN_CHAIN_LIMIT error.
func NewAutoRunChainLimitError(limit int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAutoRunChainLimit,
		Message: fmt.Sprintf("auto-run chain exceeded %d operations", limit),
	}
}

// NewConfirmationRequiredError returns a CONFIRMATION_REQUIRED error.
func NewConfirmationRequiredError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfirmationRequired, Message: msg}
}

// DispatchError is a failed run request. StatusCode is 0 for failures that
// never produced an HTTP response.
type DispatchError struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("dispatch failed: %v", e.Err)
		}
		return "dispatch failed"
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("dispatch failed with status %d: %s", e.StatusCode, truncate(e.Body, 256))
	}
	return fmt.Sprintf("dispatch failed with status %d", e.StatusCode)
}

// Unwrap returns the underlying transport error, if any.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsForbidden reports whether the server rejected the request with 403.
func (e *DispatchError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// AsDispatchError extracts a *DispatchError from err's chain.
func AsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
