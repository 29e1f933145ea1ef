package engine

import (
	"context"
	"time"

	"github.com/pitabwire/operations/internal/interpret"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/model"
)

// Outcome labels of a finished step.
const (
	OutcomeHandled   = "handled"
	OutcomeRendered  = "rendered"
	OutcomeRunScreen = "run_screen"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// RunObserver receives one event per operation executed by Run, including
// each followed auto-run action. Implementations may record metrics, audit
// logs, or other telemetry.
type RunObserver interface {
	OnRun(ctx context.Context, event RunEvent)
}

// RunEvent describes one executed operation.
type RunEvent struct {
	RunID        string        `json:"run_id"`
	OperationKey string        `json:"operation_key"`
	Scope        string        `json:"scope"`
	ScopeID      string        `json:"scope_id,omitempty"`
	SubjectID    string        `json:"subject_id,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Depth        int           `json:"depth"`
	Outcome      string        `json:"outcome"`
	ResultType   string        `json:"result_type,omitempty"`
	Handled      bool          `json:"handled"`
	Navigation   string        `json:"navigation,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// ObserverFunc adapts a function to RunObserver.
type ObserverFunc func(ctx context.Context, event RunEvent)

// OnRun calls f.
func (f ObserverFunc) OnRun(ctx context.Context, event RunEvent) { f(ctx, event) }

// MetricsObserver records runs in Prometheus.
type MetricsObserver struct {
	metrics *observability.Metrics
}

// NewMetricsObserver creates a MetricsObserver. A nil metrics records
// nothing.
func NewMetricsObserver(m *observability.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

// OnRun records the run counter and duration.
func (o *MetricsObserver) OnRun(_ context.Context, event RunEvent) {
	o.metrics.RecordRun(event.Scope, event.Outcome, event.Duration)
}

// notifyObservers sends a RunEvent to all registered observers.
func (e *Engine) notifyObservers(
	ctx context.Context,
	op *model.OperationDescriptor,
	scopeID string,
	depth int,
	rep Report,
	duration time.Duration,
	err error,
) {
	if len(e.observers) == 0 {
		return
	}

	event := RunEvent{
		RunID:        runIDFrom(ctx),
		OperationKey: op.Key(),
		Scope:        string(op.Scope),
		ScopeID:      scopeID,
		Depth:        depth,
		Outcome:      outcomeLabel(rep, err),
		Handled:      rep.Handled,
		Navigation:   string(rep.Navigation),
		StartedAt:    time.Now().Add(-duration),
		Duration:     duration,
	}
	if rep.Result != nil {
		event.ResultType = string(rep.Result.ResultType)
	} else if rep.Effect == interpret.EffectFile {
		event.ResultType = string(model.ResultFileDownload)
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		event.SubjectID = rctx.SubjectID
		event.SessionID = rctx.SessionID
	}
	if err != nil {
		event.Error = err.Error()
	}

	for _, obs := range e.observers {
		obs.OnRun(ctx, event)
	}
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
