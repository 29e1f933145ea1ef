package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/operations/internal/config"
	"github.com/pitabwire/operations/model"
)

// Context key for the logger.
type loggerKey struct{}

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Log level usage conventions:
//   - error: infrastructure failures (backend unreachable, store down, panics)
//   - warn:  4xx responses, cancelled confirmations, circuit breaker open
//   - info:  run start/end, navigation, catalog load
//   - debug: request building, endpoint resolution, interpretation details
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found. A nil fallback yields a no-op logger.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// RequestLogger returns a logger enriched with session fields from the
// RequestContext.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("subject_id", rctx.SubjectID),
		zap.String("session_id", rctx.SessionID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// sensitiveHeaders lists lower-cased header names never logged in clear.
var sensitiveHeaders = map[string]bool{
	"authorization":         true,
	"confirmation-password": true,
	"cookie":                true,
	"x-api-key":             true,
}

// sensitiveParams lists lower-cased form parameter names never logged in clear.
var sensitiveParams = map[string]bool{
	"password": true,
	"secret":   true,
	"token":    true,
	"pin":      true,
	"otp":      true,
}

// RedactHeaders returns a copy of headers with credential values replaced.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

// RedactParams returns a copy of form parameters with sensitive entries
// replaced. Names in extra are redacted in addition to the defaults.
func RedactParams(params map[string]string, extra ...string) map[string]string {
	if params == nil {
		return nil
	}
	redact := make(map[string]bool, len(extra))
	for _, f := range extra {
		redact[strings.ToLower(f)] = true
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		lk := strings.ToLower(k)
		if sensitiveParams[lk] || redact[lk] {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}
