// Package confirm gates sensitive runs behind a confirmation prompt,
// optionally collecting a password or device approval first.
package confirm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/request"
	"github.com/pitabwire/operations/model"
)

// DefaultMaxAttempts bounds how often a rejected credential is re-prompted.
const DefaultMaxAttempts = 3

// Prompt results recorded in metrics.
const (
	resultConfirmed = "confirmed"
	resultCancelled = "cancelled"
	resultRejected  = "rejected"
	resultError     = "error"
)

// RunDataFetcher retrieves the data-for-run of an operation.
type RunDataFetcher interface {
	FetchRunData(ctx context.Context, req model.RequestSpec) (model.RunData, error)
}

// RunFunc performs the actual run once confirmed. The credential is empty
// when none was asked for.
type RunFunc func(ctx context.Context, cred model.Credential, formParams map[string]string) error

// Coordinator decides which confirmation, if any, a run needs and invokes
// the run once the user agreed.
type Coordinator struct {
	fetcher     RunDataFetcher
	prompter    model.ConfirmationPrompter
	maxAttempts int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxAttempts sets how many credentials are tried before a 403 is
// returned to the caller.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records prompt outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a Coordinator.
func New(fetcher RunDataFetcher, prompter model.ConfirmationPrompter, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:     fetcher,
		prompter:    prompter,
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaybeConfirmAndRun runs op through the confirmation gate it declares.
// invoked reports whether run was called. A dismissed prompt returns
// (false, nil): cancellation is not an error.
func (c *Coordinator) MaybeConfirmAndRun(
	ctx context.Context,
	op *model.OperationDescriptor,
	scopeID string,
	formParams map[string]string,
	run RunFunc,
) (invoked bool, err error) {
	if op == nil {
		return false, errors.New("confirm: nil operation")
	}

	// Step 1: password-gated operations ask the server what to collect.
	if op.RequireConfirmationPassword {
		spec, err := request.BuildRunData(op, scopeID)
		if err != nil {
			return false, err
		}
		data, err := c.fetcher.FetchRunData(ctx, spec)
		if err != nil {
			return false, err
		}
		message := data.ConfirmationText
		if message == "" {
			message = op.ConfirmationText
		}
		if data.PasswordRequired() {
			return c.promptAndRun(ctx, model.ConfirmationRequest{
				Operation: op,
				Message:   message,
				Password:  data.ConfirmationPasswordInput,
			}, formParams, run)
		}
		// The session already satisfies the credential: still a confirmed
		// run, with the plain dialog when there is text to show.
		if message != "" {
			return c.promptAndRun(ctx, model.ConfirmationRequest{Operation: op, Message: message}, formParams, run)
		}
		return true, run(ctx, model.Credential{}, formParams)
	}

	// Step 2: plain confirmation.
	if op.ConfirmationText != "" {
		return c.promptAndRun(ctx, model.ConfirmationRequest{Operation: op, Message: op.ConfirmationText}, formParams, run)
	}

	// Step 3: nothing to confirm.
	return true, run(ctx, model.Credential{}, formParams)
}

// promptAndRun prompts, runs, and re-prompts with a cleared credential when
// the server rejects a supplied credential with 403.
func (c *Coordinator) promptAndRun(
	ctx context.Context,
	req model.ConfirmationRequest,
	formParams map[string]string,
	run RunFunc,
) (bool, error) {
	logger := observability.RequestLogger(ctx, c.logger).With(zap.String("operation", req.Operation.Key()))
	kind := promptKind(req)
	invoked := false

	for attempt := 1; ; attempt++ {
		req.Attempt = attempt
		resp, err := c.prompter.Prompt(ctx, req)
		if errors.Is(err, context.Canceled) {
			resp, err = model.ConfirmationResponse{}, nil
		}
		if err != nil {
			c.metrics.RecordConfirmationPrompt(kind, resultError)
			return invoked, fmt.Errorf("confirm: prompt: %w", err)
		}
		if !resp.Confirmed || (req.Password != nil && resp.Credential.Empty()) {
			c.metrics.RecordConfirmationPrompt(kind, resultCancelled)
			logger.Info("confirmation dismissed", zap.Int("attempt", attempt))
			return invoked, nil
		}
		c.metrics.RecordConfirmationPrompt(kind, resultConfirmed)

		cred := resp.Credential
		if req.Password != nil && cred.Kind == "" {
			cred.Kind = req.Password.Kind
		}

		invoked = true
		err = run(ctx, cred, formParams)
		if err == nil {
			return true, nil
		}

		de, ok := model.AsDispatchError(err)
		if !ok || !de.IsForbidden() || cred.Empty() || attempt >= c.maxAttempts {
			return true, err
		}
		c.metrics.RecordConfirmationPrompt(kind, resultRejected)
		logger.Warn("confirmation credential rejected, prompting again",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
		)
	}
}

func promptKind(req model.ConfirmationRequest) string {
	if req.Password == nil {
		return "text"
	}
	return string(req.Password.Kind)
}
