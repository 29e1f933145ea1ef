package confirm

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/operations/model"
)

type fakeFetcher struct {
	data  model.RunData
	err   error
	calls []model.RequestSpec
}

func (f *fakeFetcher) FetchRunData(_ context.Context, req model.RequestSpec) (model.RunData, error) {
	f.calls = append(f.calls, req)
	return f.data, f.err
}

// scriptedPrompter answers prompts in order; once exhausted it cancels.
type scriptedPrompter struct {
	answers  []model.ConfirmationResponse
	err      error
	requests []model.ConfirmationRequest
}

func (p *scriptedPrompter) Prompt(_ context.Context, req model.ConfirmationRequest) (model.ConfirmationResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return model.ConfirmationResponse{}, p.err
	}
	if len(p.requests) > len(p.answers) {
		return model.ConfirmationResponse{}, nil
	}
	return p.answers[len(p.requests)-1], nil
}

type runRecorder struct {
	errs  []error
	creds []model.Credential
	forms []map[string]string
}

func (r *runRecorder) run(_ context.Context, cred model.Credential, form map[string]string) error {
	r.creds = append(r.creds, cred)
	r.forms = append(r.forms, form)
	if i := len(r.creds) - 1; i < len(r.errs) {
		return r.errs[i]
	}
	return nil
}

func confirmed(value string) model.ConfirmationResponse {
	return model.ConfirmationResponse{Confirmed: true, Credential: model.Credential{Value: value}}
}

var passwordSpec = &model.ConfirmationPasswordSpec{Kind: model.CredentialPassword, Name: "Login password"}

func TestCoordinator_noConfirmation_runsImmediately(t *testing.T) {
	fetcher := &fakeFetcher{}
	prompter := &scriptedPrompter{}
	rec := &runRecorder{}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, ResultType: model.ResultNotification}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "u1", map[string]string{"a": "1"}, rec.run)
	if err != nil || !invoked {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v; want true, nil", invoked, err)
	}
	if len(prompter.requests) != 0 || len(fetcher.calls) != 0 {
		t.Error("no prompt and no run-data fetch expected")
	}
	if len(rec.creds) != 1 || !rec.creds[0].Empty() {
		t.Errorf("run creds = %v, want one empty credential", rec.creds)
	}
	if rec.forms[0]["a"] != "1" {
		t.Errorf("form params = %v, want forwarded", rec.forms[0])
	}
}

func TestCoordinator_confirmationText_cancelSkipsRun(t *testing.T) {
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{{Confirmed: false}}}
	rec := &runRecorder{}
	c := New(&fakeFetcher{}, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, ConfirmationText: "Are you sure?"}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil {
		t.Fatalf("cancel should not be an error, got %v", err)
	}
	if invoked || len(rec.creds) != 0 {
		t.Error("run must not be invoked after cancel")
	}
	if len(prompter.requests) != 1 || prompter.requests[0].Message != "Are you sure?" || prompter.requests[0].Password != nil {
		t.Errorf("prompt requests = %+v", prompter.requests)
	}
}

func TestCoordinator_confirmationText_confirmRuns(t *testing.T) {
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{{Confirmed: true}}}
	rec := &runRecorder{}
	c := New(&fakeFetcher{}, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeSystem, ConfirmationText: "Sure?"}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil || !invoked || len(rec.creds) != 1 {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v; runs = %d", invoked, err, len(rec.creds))
	}
}

func TestCoordinator_contextCanceledPromptIsSilent(t *testing.T) {
	prompter := &scriptedPrompter{err: context.Canceled}
	rec := &runRecorder{}
	c := New(&fakeFetcher{}, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeSystem, ConfirmationText: "Sure?"}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil || invoked {
		t.Errorf("MaybeConfirmAndRun() = %v, %v; want false, nil", invoked, err)
	}
}

func TestCoordinator_promptErrorPropagates(t *testing.T) {
	prompter := &scriptedPrompter{err: errors.New("tty closed")}
	c := New(&fakeFetcher{}, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeSystem, ConfirmationText: "Sure?"}
	if _, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, (&runRecorder{}).run); err == nil {
		t.Error("expected prompt error")
	}
}

func TestCoordinator_password_fetchesRunDataAndPassesCredential(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: passwordSpec}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{confirmed("1234")}}
	rec := &runRecorder{}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", InternalName: "pay", Scope: model.ScopeRecord, RequireConfirmationPassword: true, ConfirmationText: "Pay now?"}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "r9", nil, rec.run)
	if err != nil || !invoked {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v", invoked, err)
	}

	if len(fetcher.calls) != 1 {
		t.Fatalf("run-data fetches = %d, want 1", len(fetcher.calls))
	}
	if got := fetcher.calls[0]; got.Endpoint != "getRecordOperationDataForRun" || got.PathParams["id"] != "r9" {
		t.Errorf("run-data request = %+v", got)
	}

	req := prompter.requests[0]
	if req.Password != passwordSpec || req.Message != "Pay now?" || req.Attempt != 1 {
		t.Errorf("prompt request = %+v", req)
	}
	if rec.creds[0].Value != "1234" || rec.creds[0].Kind != model.CredentialPassword {
		t.Errorf("credential = %+v, want password 1234", rec.creds[0])
	}
}

func TestCoordinator_password_notRequired_proceeds(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{}}
	prompter := &scriptedPrompter{}
	rec := &runRecorder{}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil || !invoked {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v; want proceed", invoked, err)
	}
	if len(prompter.requests) != 0 {
		t.Error("no prompt expected when the server needs no credential and there is no text")
	}
	if len(rec.creds) != 1 || !rec.creds[0].Empty() {
		t.Errorf("run creds = %v", rec.creds)
	}
}

func TestCoordinator_password_notRequired_withText_showsPlainConfirm(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{{Confirmed: false}}}
	rec := &runRecorder{}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true, ConfirmationText: "Sure?"}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil || invoked {
		t.Errorf("MaybeConfirmAndRun() = %v, %v; want cancelled", invoked, err)
	}
	if len(prompter.requests) != 1 || prompter.requests[0].Password != nil {
		t.Errorf("prompt requests = %+v, want one plain confirmation", prompter.requests)
	}
}

func TestCoordinator_password_emptyCredentialCancels(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: passwordSpec}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{{Confirmed: true}}}
	rec := &runRecorder{}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil || invoked || len(rec.creds) != 0 {
		t.Errorf("MaybeConfirmAndRun() = %v, %v; runs = %d", invoked, err, len(rec.creds))
	}
}

func TestCoordinator_runDataErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: &model.DispatchError{StatusCode: 500}}
	rec := &runRecorder{}
	c := New(fetcher, &scriptedPrompter{})

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if invoked || err == nil {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v; want error", invoked, err)
	}
	if _, ok := model.AsDispatchError(err); !ok {
		t.Errorf("error = %T, want DispatchError", err)
	}
}

func TestCoordinator_forbidden_reprompts(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: passwordSpec}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{confirmed("wrong"), confirmed("right")}}
	rec := &runRecorder{errs: []error{&model.DispatchError{StatusCode: 403}}}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil || !invoked {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v", invoked, err)
	}
	if len(fetcher.calls) != 1 {
		t.Errorf("run-data fetches = %d, want 1 (no refetch on re-prompt)", len(fetcher.calls))
	}
	if len(prompter.requests) != 2 || prompter.requests[1].Attempt != 2 {
		t.Errorf("prompts = %+v, want second attempt", prompter.requests)
	}
	if rec.creds[1].Value != "right" {
		t.Errorf("second credential = %q, want right", rec.creds[1].Value)
	}
}

func TestCoordinator_forbidden_exhaustsAttempts(t *testing.T) {
	forbidden := &model.DispatchError{StatusCode: 403}
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: passwordSpec}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{confirmed("a"), confirmed("b"), confirmed("c")}}
	rec := &runRecorder{errs: []error{forbidden, forbidden, forbidden}}
	c := New(fetcher, prompter, WithMaxAttempts(2))

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if !invoked || !errors.Is(err, forbidden) {
		t.Fatalf("MaybeConfirmAndRun() = %v, %v; want the 403", invoked, err)
	}
	if len(rec.creds) != 2 {
		t.Errorf("runs = %d, want 2", len(rec.creds))
	}
}

func TestCoordinator_forbidden_cancelOnRepromptIsSilent(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: passwordSpec}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{confirmed("wrong")}}
	rec := &runRecorder{errs: []error{&model.DispatchError{StatusCode: 403}}}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	invoked, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run)
	if err != nil {
		t.Errorf("error = %v, want nil after dismissing the re-prompt", err)
	}
	if !invoked {
		t.Error("invoked = false, want true (first attempt reached the server)")
	}
}

func TestCoordinator_nonForbiddenErrorNotRetried(t *testing.T) {
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: passwordSpec}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{confirmed("x"), confirmed("y")}}
	rec := &runRecorder{errs: []error{&model.DispatchError{StatusCode: 500}}}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	if _, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run); err == nil {
		t.Fatal("expected the 500 to propagate")
	}
	if len(prompter.requests) != 1 {
		t.Errorf("prompts = %d, want 1", len(prompter.requests))
	}
}

func TestCoordinator_deviceKindFilledFromSpec(t *testing.T) {
	device := &model.ConfirmationPasswordSpec{Kind: model.CredentialDevice, DeviceAvailable: true}
	fetcher := &fakeFetcher{data: model.RunData{ConfirmationPasswordInput: device}}
	prompter := &scriptedPrompter{answers: []model.ConfirmationResponse{confirmed("dev-7")}}
	rec := &runRecorder{}
	c := New(fetcher, prompter)

	op := &model.OperationDescriptor{ID: "1", Scope: model.ScopeUser, RequireConfirmationPassword: true}
	if _, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, rec.run); err != nil {
		t.Fatalf("MaybeConfirmAndRun() error = %v", err)
	}
	if rec.creds[0].Kind != model.CredentialDevice {
		t.Errorf("credential kind = %q, want device", rec.creds[0].Kind)
	}
}

func TestCoordinator_malformedScope(t *testing.T) {
	c := New(&fakeFetcher{}, &scriptedPrompter{})
	op := &model.OperationDescriptor{ID: "1", Scope: "galaxy", RequireConfirmationPassword: true}
	_, err := c.MaybeConfirmAndRun(context.Background(), op, "", nil, (&runRecorder{}).run)
	if !errors.Is(err, model.ErrMalformedDescriptor) {
		t.Errorf("error = %v, want ErrMalformedDescriptor", err)
	}
}
