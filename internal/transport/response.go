// Package transport contains the HTTP gateway: router, middleware chain and
// the handlers that run operations for remote sessions.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:           http.StatusBadRequest,
	model.ErrUnauthorized:         http.StatusUnauthorized,
	model.ErrForbidden:            http.StatusForbidden,
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrConflict:             http.StatusConflict,
	model.ErrValidationError:      http.StatusUnprocessableEntity,
	model.ErrInternalError:        http.StatusInternalServerError,
	model.ErrBackendUnavailable:   http.StatusBadGateway,
	model.ErrBackendTimeout:       http.StatusGatewayTimeout,
	model.ErrMalformedOperation:   http.StatusUnprocessableEntity,
	model.ErrAutoRunChainLimit:    http.StatusLoopDetected,
	model.ErrConfirmationRequired: http.StatusPreconditionRequired,
}

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error        *model.ErrorEnvelope       `json:"error"`
	Confirmation *model.ConfirmationRequest `json:"confirmation,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeRawJSON writes an already encoded JSON body.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Backend failures are classified by their status; anything unknown becomes
// a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	writeError(context.Background(), w, err)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := errorResponse{Error: classify(ctx, err)}

	var needed *confirmationNeeded
	if errors.As(err, &needed) {
		resp.Confirmation = &needed.request
	}

	status := statusForCode[resp.Error.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if resp.Error.TraceID == "" {
		resp.Error.TraceID = observability.TraceIDFromContext(ctx)
	}
	WriteJSON(w, status, resp)
}

// classify turns err into an envelope.
func classify(ctx context.Context, err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	if de, ok := model.AsDispatchError(err); ok {
		switch {
		case errors.Is(de, context.DeadlineExceeded):
			return model.NewBackendTimeoutError()
		case de.StatusCode == 0 || de.StatusCode >= http.StatusInternalServerError:
			return model.NewBackendUnavailableError()
		case de.StatusCode == http.StatusUnauthorized:
			return model.NewUnauthorizedError("backend rejected the session")
		case de.StatusCode == http.StatusForbidden:
			return model.NewForbiddenError("backend refused the operation")
		case de.StatusCode == http.StatusNotFound:
			return model.NewNotFoundError("operation not found on backend")
		default:
			return &model.ErrorEnvelope{Code: model.ErrBadRequest, Message: de.Error()}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return model.NewBackendTimeoutError()
	}
	return model.NewInternalError()
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}
