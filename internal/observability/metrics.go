package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
	chainLengthBuckets     = []float64{0, 1, 2, 3, 5, 8, 10}
)

// Metrics holds all Prometheus metric instruments for the operations engine.
type Metrics struct {
	// HTTP gateway
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Run pipeline
	RunsTotal                *prometheus.CounterVec
	RunDuration              *prometheus.HistogramVec
	ConfirmationPromptsTotal *prometheus.CounterVec
	AutoRunChainLength       prometheus.Histogram
	NavigationEventsTotal    *prometheus.CounterVec

	// Dispatch
	DispatchTotal              *prometheus.CounterVec
	DispatchDuration           *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	// Catalog
	OperationsRegistered     prometheus.Gauge
	OpenAPIOperationsIndexed prometheus.Gauge
	CatalogLoadTotal         *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operations_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operations_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operations_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_runs_total",
			Help: "Total number of operation runs by scope and outcome.",
		}, []string{"scope", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operations_run_duration_seconds",
			Help:    "Operation run duration in seconds, confirmation included.",
			Buckets: backendDurationBuckets,
		}, []string{"scope"}),
		ConfirmationPromptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_confirmation_prompts_total",
			Help: "Total number of confirmation prompts by kind and result.",
		}, []string{"kind", "result"}),
		AutoRunChainLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "operations_auto_run_chain_length",
			Help:    "Number of auto-run actions followed per run.",
			Buckets: chainLengthBuckets,
		}),
		NavigationEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_navigation_events_total",
			Help: "Total number of navigation post-conditions applied.",
		}, []string{"kind"}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_dispatch_total",
			Help: "Total number of backend dispatches by endpoint and status.",
		}, []string{"endpoint", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operations_dispatch_duration_seconds",
			Help:    "Backend dispatch duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"endpoint"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "operations_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"endpoint"}),

		OperationsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "operations_registered",
			Help: "Number of distinct operation descriptors in the registry.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "operations_openapi_operations_indexed",
			Help: "Number of indexed OpenAPI operations.",
		}),
		CatalogLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_catalog_load_total",
			Help: "Total catalog loads by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.RunsTotal,
		m.RunDuration,
		m.ConfirmationPromptsTotal,
		m.AutoRunChainLength,
		m.NavigationEventsTotal,
		m.DispatchTotal,
		m.DispatchDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.OperationsRegistered,
		m.OpenAPIOperationsIndexed,
		m.CatalogLoadTotal,
	)

	return m
}

// --- Recording helpers ---
//
// All helpers are safe to call on a nil *Metrics so that components can be
// constructed without a registry in tests and in the CLI.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(scope, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(scope, outcome).Inc()
	m.RunDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordConfirmationPrompt records a confirmation prompt. Result is one of
// confirmed, cancelled, or error.
func (m *Metrics) RecordConfirmationPrompt(kind, result string) {
	if m == nil {
		return
	}
	m.ConfirmationPromptsTotal.WithLabelValues(kind, result).Inc()
}

// RecordAutoRunChain records how many auto-run actions a run followed.
func (m *Metrics) RecordAutoRunChain(length int) {
	if m == nil {
		return
	}
	m.AutoRunChainLength.Observe(float64(length))
}

// RecordNavigation records an applied navigation post-condition.
func (m *Metrics) RecordNavigation(kind string) {
	if m == nil {
		return
	}
	m.NavigationEventsTotal.WithLabelValues(kind).Inc()
}

// RecordDispatch records a backend dispatch. A zero status means the backend
// was never reached.
func (m *Metrics) RecordDispatch(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.DispatchDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(endpoint string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(endpoint).Inc()
}

// SetOperationsRegistered sets the registry size gauge.
func (m *Metrics) SetOperationsRegistered(count int) {
	if m == nil {
		return
	}
	m.OperationsRegistered.Set(float64(count))
}

// SetOpenAPIOperationsIndexed sets the number of indexed OpenAPI operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(count int) {
	if m == nil {
		return
	}
	m.OpenAPIOperationsIndexed.Set(float64(count))
}

// RecordCatalogLoad records a catalog load attempt.
func (m *Metrics) RecordCatalogLoad(status string) {
	if m == nil {
		return
	}
	m.CatalogLoadTotal.WithLabelValues(status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
