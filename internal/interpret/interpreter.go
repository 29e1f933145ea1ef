// Package interpret turns a dispatch outcome into effects: saved files,
// notifications, opened URLs, and navigation post-conditions.
package interpret

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/model"
)

// Effect is the direct effect produced for an outcome.
type Effect string

const (
	EffectNone         Effect = ""
	EffectFile         Effect = "file"
	EffectNotification Effect = "notification"
	EffectOpenURL      Effect = "openUrl"
	EffectRedirect     Effect = "redirect"
)

// Navigation is the navigation post-condition that was applied.
type Navigation string

const (
	NavigationNone       Navigation = ""
	NavigationBackTo     Navigation = "backTo"
	NavigationBackToRoot Navigation = "backToRoot"
	NavigationReRun      Navigation = "reRun"
	NavigationAutoRun    Navigation = "autoRun"
	NavigationRunScreen  Navigation = "runScreen"
)

// Report describes what handling an outcome did. Handled reflects only the
// direct effect; results that are not handled are left for the caller to
// render from Result.
type Report struct {
	Handled    bool                      `json:"handled"`
	Effect     Effect                    `json:"effect,omitempty"`
	Navigation Navigation                `json:"navigation,omitempty"`
	Result     *model.RunOperationResult `json:"result,omitempty"`
	// AutoRun is the action the caller must run next.
	AutoRun *model.ResultAction `json:"autoRun,omitempty"`
}

// Navigator applies navigation post-conditions. Each method reports whether
// a navigation actually happened.
type Navigator interface {
	BackToOperation(ctx context.Context, op *model.OperationDescriptor) (bool, error)
	GoBackToRoot(ctx context.Context) (bool, error)
	ReRun(ctx context.Context) (bool, error)
}

// Registrar records descriptors seen in results.
type Registrar interface {
	Register(op *model.OperationDescriptor)
}

// Sinks are the collaborators that receive direct effects.
type Sinks struct {
	Notifier model.Notifier
	Files    model.FileSaver
	Browser  model.Browser
}

// Interpreter handles outcomes. It holds no per-run state.
type Interpreter struct {
	sinks     Sinks
	navigator Navigator
	registry  Registrar
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// WithMetrics records applied navigations.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Interpreter) { i.metrics = m }
}

// New creates an Interpreter. All sinks, the navigator, and the registrar
// must be non-nil.
func New(sinks Sinks, navigator Navigator, registry Registrar, opts ...Option) *Interpreter {
	i := &Interpreter{
		sinks:     sinks,
		navigator: navigator,
		registry:  registry,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Handle performs the effects of outcome.
func (i *Interpreter) Handle(ctx context.Context, outcome model.Outcome) (report Report, err error) {
	ctx, span := observability.StartSpan(ctx, "interpret.handle")
	defer func() { observability.EndSpanWithError(span, err) }()

	logger := observability.RequestLogger(ctx, i.logger)

	// Step 1: files are terminal.
	var res model.RunOperationResult
	switch o := outcome.(type) {
	case model.BinaryOutcome:
		span.SetAttributes(observability.AttrResultType.String(string(model.ResultFileDownload)))
		if err := i.sinks.Files.Save(ctx, o.Blob, o.Filename, o.ContentType); err != nil {
			return Report{}, fmt.Errorf("interpret: save %s: %w", o.Filename, err)
		}
		logger.Debug("file saved", zap.String("filename", o.Filename), zap.Int("bytes", len(o.Blob)))
		return Report{Handled: true, Effect: EffectFile}, nil
	case model.JSONOutcome:
		res = o.Result
	default:
		return Report{}, errors.New("interpret: no outcome")
	}

	span.SetAttributes(observability.AttrResultType.String(string(res.ResultType)))
	report.Result = &res

	// Step 2: direct effect by result type.
	switch res.ResultType {
	case model.ResultNotification:
		i.notify(ctx, &res)
		report.Handled, report.Effect = true, EffectNotification
	case model.ResultURL:
		if err := i.sinks.Browser.Open(ctx, res.URL); err != nil {
			return report, fmt.Errorf("interpret: open %s: %w", res.URL, err)
		}
		report.Handled, report.Effect = true, EffectOpenURL
	case model.ResultExternalRedirect:
		if err := i.sinks.Browser.Redirect(ctx, res.URL); err != nil {
			return report, fmt.Errorf("interpret: redirect %s: %w", res.URL, err)
		}
		report.Handled, report.Effect = true, EffectRedirect
	case model.ResultFileDownload, model.ResultPage, model.ResultPlainText, model.ResultRichText:
		// Rendered by the caller.
	default:
		logger.Warn("unknown result type left unhandled", zap.String("result_type", string(res.ResultType)))
	}

	// Descriptors in the result become runnable by key.
	if res.BackTo != nil {
		i.registry.Register(res.BackTo)
	}
	for idx := range res.Actions {
		i.registry.Register(&res.Actions[idx].Action)
	}

	// Step 3: navigation post-conditions, first navigation wins.
	nav, err := i.navigate(ctx, &res)
	if err != nil {
		return report, err
	}
	report.Navigation = nav
	if nav == NavigationAutoRun {
		action, _ := res.AutoRunAction()
		report.AutoRun = &action
	}
	if nav != NavigationNone {
		i.metrics.RecordNavigation(string(nav))
		logger.Debug("navigation applied", zap.String("navigation", string(nav)))
	}
	return report, nil
}

func (i *Interpreter) notify(ctx context.Context, res *model.RunOperationResult) {
	text := res.Notification
	if text == "" {
		text = res.Title
	}
	switch res.Level() {
	case model.LevelInformation:
		i.sinks.Notifier.Info(ctx, text)
	case model.LevelWarning:
		i.sinks.Notifier.Warning(ctx, text)
	case model.LevelError:
		i.sinks.Notifier.Error(ctx, text)
	default:
		i.sinks.Notifier.Info(ctx, text)
	}
}

func (i *Interpreter) navigate(ctx context.Context, res *model.RunOperationResult) (Navigation, error) {
	if res.BackTo != nil {
		moved, err := i.navigator.BackToOperation(ctx, res.BackTo)
		if err != nil {
			return NavigationNone, fmt.Errorf("interpret: back to %s: %w", res.BackTo.Key(), err)
		}
		if moved {
			return NavigationBackTo, nil
		}
	}
	if res.BackToRoot {
		moved, err := i.navigator.GoBackToRoot(ctx)
		if err != nil {
			return NavigationNone, fmt.Errorf("interpret: back to root: %w", err)
		}
		if moved {
			return NavigationBackToRoot, nil
		}
	}
	if res.ReRun {
		moved, err := i.navigator.ReRun(ctx)
		if err != nil {
			return NavigationNone, fmt.Errorf("interpret: re-run: %w", err)
		}
		if moved {
			return NavigationReRun, nil
		}
	}
	if _, ok := res.AutoRunAction(); ok {
		return NavigationAutoRun, nil
	}
	return NavigationNone, nil
}
