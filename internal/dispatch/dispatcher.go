// Package dispatch sends resolved run requests to the operations API and
// normalizes every failure into a *model.DispatchError.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/model"
)

// Dispatcher executes RequestSpecs through a Transport. It never retries and
// never recovers: the caller decides what a failure means.
type Dispatcher struct {
	transport model.Transport
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records dispatch counters and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher over transport.
func New(transport model.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{transport: transport, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute sends req and returns its outcome, either binary or JSON.
func (d *Dispatcher) Execute(ctx context.Context, req model.RequestSpec) (model.Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.execute",
		observability.AttrEndpoint.String(req.Endpoint),
		observability.AttrOperationKey.String(req.OperationKey),
		observability.AttrScope.String(string(req.Scope)),
	)
	start := time.Now()

	out, err := d.transport.Invoke(ctx, req)
	err = normalize(err)
	d.observe(ctx, req, start, err)

	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchRunData retrieves the data-for-run of an operation.
func (d *Dispatcher) FetchRunData(ctx context.Context, req model.RequestSpec) (model.RunData, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.fetch_run_data",
		observability.AttrEndpoint.String(req.Endpoint),
		observability.AttrOperationKey.String(req.OperationKey),
	)
	start := time.Now()

	data, err := d.transport.FetchRunData(ctx, req)
	err = normalize(err)
	d.observe(ctx, req, start, err)

	observability.EndSpanWithError(span, err)
	if err != nil {
		return model.RunData{}, err
	}
	return data, nil
}

func (d *Dispatcher) observe(ctx context.Context, req model.RequestSpec, start time.Time, err error) {
	elapsed := time.Since(start)
	status := 200
	if de, ok := model.AsDispatchError(err); ok {
		status = de.StatusCode
	}
	d.metrics.RecordDispatch(req.Endpoint, status, elapsed)

	logger := observability.RequestLogger(ctx, d.logger)
	fields := []zap.Field{
		zap.String("endpoint", req.Endpoint),
		zap.String("operation", req.OperationKey),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
	}
	switch {
	case err == nil:
		logger.Debug("dispatch completed", append(fields, zap.Any("headers", observability.RedactHeaders(req.Headers)))...)
	case status == 0:
		logger.Error("dispatch failed", append(fields, zap.Error(err))...)
	default:
		logger.Warn("dispatch rejected", append(fields, zap.Error(err))...)
	}
}

// normalize wraps anything that is not already a DispatchError.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var de *model.DispatchError
	if errors.As(err, &de) {
		return err
	}
	return &model.DispatchError{Err: err}
}
