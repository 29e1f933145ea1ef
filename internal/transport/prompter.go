package transport

import (
	"context"

	"github.com/pitabwire/operations/model"
)

// confirmationNeeded is returned by requestPrompter when the request did not
// carry the answer the confirmation asks for. The gateway turns it into a
// CONFIRMATION_REQUIRED response that includes the prompt.
type confirmationNeeded struct {
	request model.ConfirmationRequest
}

func (e *confirmationNeeded) Error() string {
	return model.NewConfirmationRequiredError(e.message()).Error()
}

func (e *confirmationNeeded) message() string {
	switch {
	case e.request.Attempt > 1:
		return "the supplied credential was rejected"
	case e.request.Password != nil:
		return "this operation requires a confirmation credential"
	default:
		return "this operation requires confirmation"
	}
}

// Unwrap exposes the envelope so WriteError maps the status code.
func (e *confirmationNeeded) Unwrap() error {
	return model.NewConfirmationRequiredError(e.message())
}

// requestPrompter answers confirmation prompts from the run request body.
// The credential is only offered on the first attempt; a re-prompt after a
// rejected credential asks the caller again.
type requestPrompter struct {
	confirmed  bool
	credential model.Credential
}

func (p requestPrompter) Prompt(_ context.Context, req model.ConfirmationRequest) (model.ConfirmationResponse, error) {
	if req.Attempt > 1 {
		return model.ConfirmationResponse{}, &confirmationNeeded{request: req}
	}
	if req.Password != nil {
		if p.credential.Empty() {
			return model.ConfirmationResponse{}, &confirmationNeeded{request: req}
		}
		return model.ConfirmationResponse{Confirmed: true, Credential: p.credential}, nil
	}
	if !p.confirmed {
		return model.ConfirmationResponse{}, &confirmationNeeded{request: req}
	}
	return model.ConfirmationResponse{Confirmed: true}, nil
}
