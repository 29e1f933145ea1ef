package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Operation not found"}
	want := "NOT_FOUND: Operation not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
	var _ error = (*DispatchError)(nil)
}

func TestNewNotFoundError(t *testing.T) {
	e := NewNotFoundError("resource missing")
	if e.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", e.Code, ErrNotFound)
	}
	if e.Message != "resource missing" {
		t.Errorf("Message = %q, want %q", e.Message, "resource missing")
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "scope", Code: "REQUIRED", Message: "scope is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "scope" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "scope")
	}
}

func TestErrorConstructors_codes(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		code string
	}{
		{"bad request", NewBadRequestError("bad json"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("missing token"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("denied"), ErrForbidden},
		{"internal", NewInternalError(), ErrInternalError},
		{"backend unavailable", NewBackendUnavailableError(), ErrBackendUnavailable},
		{"backend timeout", NewBackendTimeoutError(), ErrBackendTimeout},
		{"malformed", NewMalformedOperationError("bad scope"), ErrMalformedOperation},
		{"chain limit", NewAutoRunChainLimitError(10), ErrAutoRunChainLimit},
		{"confirmation", NewConfirmationRequiredError("password needed"), ErrConfirmationRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
		})
	}
}

func TestNewAutoRunChainLimitError_message(t *testing.T) {
	e := NewAutoRunChainLimitError(10)
	if !strings.Contains(e.Message, "10") {
		t.Errorf("Message = %q, want it to mention the limit", e.Message)
	}
}

func TestDispatchError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *DispatchError
		want string
	}{
		{"status only", &DispatchError{StatusCode: 500}, "dispatch failed with status 500"},
		{"status with body", &DispatchError{StatusCode: 403, Body: []byte("nope")}, "dispatch failed with status 403: nope"},
		{"transport failure", &DispatchError{Err: errors.New("connection refused")}, "dispatch failed: connection refused"},
		{"empty", &DispatchError{}, "dispatch failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatchError_IsForbidden(t *testing.T) {
	if !(&DispatchError{StatusCode: 403}).IsForbidden() {
		t.Error("IsForbidden() = false for 403")
	}
	if (&DispatchError{StatusCode: 401}).IsForbidden() {
		t.Error("IsForbidden() = true for 401")
	}
}

func TestAsDispatchError_wrapped(t *testing.T) {
	inner := &DispatchError{StatusCode: 404}
	err := fmt.Errorf("engine: run: %w", inner)

	de, ok := AsDispatchError(err)
	if !ok {
		t.Fatal("AsDispatchError() ok = false, want true")
	}
	if de != inner {
		t.Errorf("AsDispatchError() = %v, want %v", de, inner)
	}

	if _, ok := AsDispatchError(errors.New("plain")); ok {
		t.Error("AsDispatchError(plain) ok = true, want false")
	}
}

func TestDispatchError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := &DispatchError{Err: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(DispatchError, cause) = false, want true")
	}
}
