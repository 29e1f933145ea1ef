// Package engine runs operations end to end: the run decision, the
// confirmation gate, request building, dispatch, result interpretation and
// the auto-run chain.
package engine

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/confirm"
	"github.com/pitabwire/operations/internal/decision"
	"github.com/pitabwire/operations/internal/dispatch"
	"github.com/pitabwire/operations/internal/interpret"
	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/registry"
	"github.com/pitabwire/operations/internal/request"
	"github.com/pitabwire/operations/model"
)

// DefaultMaxAutoRunChain bounds how many auto-run actions one Run follows.
const DefaultMaxAutoRunChain = 10

// Collaborators are the host-provided effects of a run. All fields are
// required.
type Collaborators struct {
	Prompter   model.ConfirmationPrompter
	Notifier   model.Notifier
	Files      model.FileSaver
	Browser    model.Browser
	Breadcrumb model.Breadcrumb
	Router     model.Router
}

// Report is what one Run did.
type Report struct {
	interpret.Report
	RunID string `json:"runId"`
	// Operation is the key of the last operation in the chain.
	Operation string `json:"operation"`
	// RunScreen is the path navigated to when the operation needs its form.
	RunScreen string `json:"runScreen,omitempty"`
	// Cancelled is set when the user dismissed the confirmation.
	Cancelled bool `json:"cancelled,omitempty"`
	// Chain is the number of auto-run actions followed.
	Chain int `json:"chain,omitempty"`
}

// Engine runs operations for one session. It holds no per-run state; the
// registry and the breadcrumb are the only shared mutable state.
type Engine struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	confirm    *confirm.Coordinator
	interp     *interpret.Interpreter
	nav        *navigation.Manager

	maxChain    int
	maxAttempts int
	homePath    string
	strict      bool
	observers   []RunObserver
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAutoRunChain sets the auto-run chain limit.
func WithMaxAutoRunChain(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxChain = n
		}
	}
}

// WithMaxConfirmationAttempts sets how often a rejected credential is
// re-prompted.
func WithMaxConfirmationAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithHomePath sets the root used by backToRoot when the breadcrumb has no
// non-operation entry.
func WithHomePath(p string) Option {
	return func(e *Engine) { e.homePath = p }
}

// WithRestrictToHostPageTypes controls whether results that need their own
// screen always go through the run screen. Defaults to true.
func WithRestrictToHostPageTypes(restrict bool) Option {
	return func(e *Engine) { e.strict = restrict }
}

// WithObserver adds a run observer.
func WithObserver(obs RunObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs) }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New wires a pipeline over transport and the given collaborators.
func New(reg *registry.Registry, transport model.Transport, collab Collaborators, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		maxChain:    DefaultMaxAutoRunChain,
		maxAttempts: confirm.DefaultMaxAttempts,
		homePath:    navigation.DefaultHomePath,
		strict:      true,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dispatcher = dispatch.New(transport,
		dispatch.WithLogger(e.logger),
		dispatch.WithMetrics(e.metrics),
	)
	e.confirm = confirm.New(e.dispatcher, collab.Prompter,
		confirm.WithMaxAttempts(e.maxAttempts),
		confirm.WithLogger(e.logger),
		confirm.WithMetrics(e.metrics),
	)
	e.nav = navigation.NewManager(collab.Breadcrumb, collab.Router,
		navigation.WithHomePath(e.homePath),
		navigation.WithLogger(e.logger),
	)
	e.interp = interpret.New(
		interpret.Sinks{Notifier: collab.Notifier, Files: collab.Files, Browser: collab.Browser},
		e.nav, reg,
		interpret.WithLogger(e.logger),
		interpret.WithMetrics(e.metrics),
	)
	return e
}

// Registry returns the operation registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Navigator returns the breadcrumb manager.
func (e *Engine) Navigator() *navigation.Manager {
	return e.nav
}

// CanRunDirectly reports whether op can run without its parameter form.
func (e *Engine) CanRunDirectly(op *model.OperationDescriptor, strict bool) bool {
	return decision.CanRunDirectly(op, strict)
}

// Run executes op. When op needs its parameter form the run screen is shown
// instead. Auto-run actions returned by the server are followed until the
// chain limit.
func (e *Engine) Run(ctx context.Context, op *model.OperationDescriptor, scopeID string, formParams map[string]string) (Report, error) {
	if op == nil {
		return Report{}, model.NewBadRequestError("operation is required")
	}
	if err := op.Validate(); err != nil {
		return Report{}, model.NewMalformedOperationError(err.Error())
	}

	report := Report{RunID: uuid.NewString()}
	logger := observability.RequestLogger(ctx, e.logger).With(zap.String("run_id", report.RunID))
	ctx = observability.WithLogger(withRunID(ctx, report.RunID), logger)

	ctx, span := observability.StartSpan(ctx, "engine.run", append([]attribute.KeyValue{
		observability.AttrRunID.String(report.RunID),
		observability.AttrOperationKey.String(op.Key()),
		observability.AttrScope.String(string(op.Scope)),
	}, observability.SessionAttributes(ctx)...)...)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	e.registry.Register(op)
	params := maps.Clone(formParams)

	for {
		report.Operation = op.Key()
		var step Report
		step, err = e.runOne(ctx, op, scopeID, params, report.Chain)
		step.RunID, step.Operation, step.Chain = report.RunID, report.Operation, report.Chain
		report = step
		if err != nil || report.AutoRun == nil {
			break
		}

		if report.Chain >= e.maxChain {
			err = model.NewAutoRunChainLimitError(e.maxChain)
			logger.Warn("auto-run chain limit reached", zap.Int("limit", e.maxChain))
			break
		}
		next := report.AutoRun.Action
		if next.Scope != op.Scope {
			scopeID = ""
		}
		params = maps.Clone(report.AutoRun.Parameters)
		op = &next
		e.registry.Register(op)
		report.Chain++
		logger.Debug("following auto-run action",
			zap.String("operation_key", op.Key()),
			zap.Int("chain", report.Chain),
		)
	}

	e.metrics.RecordAutoRunChain(report.Chain)
	span.SetAttributes(observability.AttrChainDepth.Int(report.Chain))
	return report, err
}

// runOne performs a single operation of the chain.
func (e *Engine) runOne(ctx context.Context, op *model.OperationDescriptor, scopeID string, params map[string]string, depth int) (rep Report, err error) {
	start := time.Now()
	logger := observability.LoggerFrom(ctx, e.logger).With(
		zap.String("operation_key", op.Key()),
		zap.String("scope", string(op.Scope)),
	)
	defer func() {
		e.notifyObservers(ctx, op, scopeID, depth, rep, time.Since(start), err)
	}()

	// Step 1: operations that need their form go to the run screen.
	if !decision.CanRunDirectly(op, e.strict) {
		path, err := e.nav.ShowRunScreen(ctx, op, scopeID, params)
		if err != nil {
			return Report{}, err
		}
		logger.Debug("showing run screen",
			zap.String("path", path),
			zap.String("reason", string(decision.Explain(op, e.strict))),
		)
		rep.Navigation = interpret.NavigationRunScreen
		rep.RunScreen = path
		return rep, nil
	}

	// Step 2: confirmation gate, then build, dispatch and interpret.
	logger.Info("running operation")
	applied := false
	_, err = e.confirm.MaybeConfirmAndRun(ctx, op, scopeID, params,
		func(ctx context.Context, cred model.Credential, formParams map[string]string) error {
			spec, err := request.Build(op, request.Options{
				ScopeID:              scopeID,
				ConfirmationPassword: request.CredentialValue(cred),
				FormParameters:       formParams,
			})
			if err != nil {
				return err
			}
			outcome, err := e.dispatcher.Execute(ctx, spec)
			if err != nil {
				return err
			}
			// Once the server answered, the outcome is always applied.
			rep.Report, err = e.interp.Handle(context.WithoutCancel(ctx), outcome)
			applied = err == nil
			return err
		})
	if err != nil {
		logger.Warn("operation failed", zap.Error(err))
		return rep, err
	}
	// A prompt dismissed before the server accepted a run, possibly after a
	// rejected credential.
	if !applied {
		logger.Info("operation cancelled")
		rep.Cancelled = true
		return rep, nil
	}

	logger.Info("operation completed",
		zap.Bool("handled", rep.Handled),
		zap.String("navigation", string(rep.Navigation)),
		zap.Duration("duration", time.Since(start)),
	)
	return rep, nil
}

// RunRequest builds and dispatches op without confirmation or
// interpretation. Result-page screens use it to fetch further pages.
func (e *Engine) RunRequest(ctx context.Context, op *model.OperationDescriptor, opts request.Options) (model.Outcome, error) {
	if op == nil {
		return nil, model.NewBadRequestError("operation is required")
	}
	ctx, span := observability.StartSpan(ctx, "engine.run_request",
		observability.AttrOperationKey.String(op.Key()),
		observability.AttrScope.String(string(op.Scope)),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	e.registry.Register(op)
	var spec model.RequestSpec
	spec, err = request.Build(op, opts)
	if err != nil {
		return nil, err
	}
	var outcome model.Outcome
	outcome, err = e.dispatcher.Execute(ctx, spec)
	return outcome, err
}

// outcomeLabel classifies a finished step for metrics and observers.
func outcomeLabel(rep Report, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case rep.Cancelled:
		return OutcomeCancelled
	case rep.RunScreen != "":
		return OutcomeRunScreen
	case rep.Handled:
		return OutcomeHandled
	default:
		return OutcomeRendered
	}
}
