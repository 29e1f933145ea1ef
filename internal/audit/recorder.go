package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/engine"
	"github.com/pitabwire/operations/internal/observability"
)

// Recorder writes every engine run event to a Store. Store failures are
// logged and never fail the run.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// OnRun implements engine.RunObserver.
func (r *Recorder) OnRun(ctx context.Context, ev engine.RunEvent) {
	entry := Entry{
		ID:           uuid.NewString(),
		RunID:        ev.RunID,
		OperationKey: ev.OperationKey,
		Scope:        ev.Scope,
		ScopeID:      ev.ScopeID,
		SubjectID:    ev.SubjectID,
		SessionID:    ev.SessionID,
		Depth:        ev.Depth,
		Outcome:      ev.Outcome,
		ResultType:   ev.ResultType,
		Navigation:   ev.Navigation,
		Error:        ev.Error,
		StartedAt:    ev.StartedAt,
		Duration:     ev.Duration,
	}
	if err := r.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		observability.LoggerFrom(ctx, r.logger).Error("audit append failed",
			zap.String("run_id", ev.RunID),
			zap.String("operation_key", ev.OperationKey),
			zap.Error(err),
		)
	}
}
