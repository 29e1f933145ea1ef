package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/config"
	"github.com/pitabwire/operations/internal/engine"
	"github.com/pitabwire/operations/internal/idempotency"
	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/registry"
	"github.com/pitabwire/operations/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Registry  *registry.Registry
	Transport model.Transport
	// History persists each session's breadcrumb. Defaults to an in-memory
	// store.
	History navigation.HistoryStore
	// Idempotency replays runs submitted with an Idempotency-Key header.
	// Nil disables replay.
	Idempotency  idempotency.Store
	Authenticate func(http.Handler) http.Handler
	Readiness    observability.ReadinessChecks
	Observers    []engine.RunObserver

	sessions *sessionRegistries
}

// registryFor returns the registry of the request's session. Registry is the
// read-only catalog beneath every session registry.
func (d Dependencies) registryFor(r *http.Request) *registry.Registry {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil || d.sessions == nil {
		return registry.NewSession(d.Registry)
	}
	return d.sessions.get(rctx.SessionID)
}

func (d Dependencies) homePath() string {
	if d.Config != nil && d.Config.Engine.HomePath != "" {
		return d.Config.Engine.HomePath
	}
	return navigation.DefaultHomePath
}

func (d Dependencies) sessionTTL() time.Duration {
	if d.Config != nil && d.Config.Session.Store.TTL > 0 {
		return d.Config.Session.Store.TTL
	}
	return navigation.DefaultHistoryTTL
}

func (d Dependencies) idempotencyTTL() time.Duration {
	if d.Config != nil && d.Config.Idempotency.TTL > 0 {
		return d.Config.Idempotency.TTL
	}
	return idempotency.DefaultTTL
}

func (d Dependencies) strict() bool {
	return d.Config == nil || d.Config.Engine.RestrictToHostPageTypes
}

// engineOptions builds the options every per-request engine shares.
func (d Dependencies) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(d.Logger),
		engine.WithMetrics(d.Metrics),
		engine.WithHomePath(d.homePath()),
		engine.WithRestrictToHostPageTypes(d.strict()),
	}
	if d.Config != nil {
		opts = append(opts,
			engine.WithMaxAutoRunChain(d.Config.Engine.MaxAutoRunChain),
			engine.WithMaxConfirmationAttempts(d.Config.Engine.MaxConfirmationAttempts),
		)
	}
	for _, obs := range d.Observers {
		opts = append(opts, engine.WithObserver(obs))
	}
	return opts
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Config == nil {
		deps.Config = config.Defaults()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.History == nil {
		deps.History = navigation.NewMemoryHistoryStore(deps.Config.Session.Store.TTL)
	}
	deps.sessions = newSessionRegistries(deps.Registry, deps.sessionTTL())
	if deps.Readiness.OperationsLoaded == nil {
		reg := deps.Registry
		deps.Readiness.OperationsLoaded = func() bool { return reg.Len() > 0 }
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Backend.Channel))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		strict := deps.strict()
		r.Get("/v1/operations", handleListOperations(deps, strict))
		r.Post("/v1/operations", handleRegisterOperation(deps))
		r.Get("/v1/operations/{key}", handleGetOperation(deps, strict))
		r.Post("/v1/operations/{key}/run", handleRunOperation(deps))
		r.Post("/v1/operations/{key}/page", handleFetchPage(deps))

		r.Get("/v1/navigation", handleGetNavigation(deps.History))
		r.Post("/v1/navigation", handleNavigate(deps))
		r.Delete("/v1/navigation", handleClearNavigation(deps))
	})

	return r
}
