package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/audit"
	"github.com/pitabwire/operations/internal/config"
	"github.com/pitabwire/operations/internal/engine"
	"github.com/pitabwire/operations/internal/idempotency"
	"github.com/pitabwire/operations/internal/invoker"
	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/openapi"
	"github.com/pitabwire/operations/internal/registry"
	"github.com/pitabwire/operations/model"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *observability.Metrics
	index     *openapi.Index
	registry  *registry.Registry
	transport *invoker.HTTPTransport
	history   navigation.HistoryStore
	audit     audit.Store
	// redis is set when the session store is Redis-backed.
	redis *redis.Client

	closers []func()
}

// newApp loads configuration and wires the shared dependencies. Metrics are
// only collected by a serving process.
func newApp(ctx context.Context, serving bool) (*app, error) {
	// Step 1: configuration.
	cfg, err := config.LoadOrDefaults(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: zap.NewNop()}

	// Step 2: logging and metrics.
	if verbose || serving {
		if a.logger, err = observability.NewLogger(cfg.Observability); err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.logger.Sync() })
	}
	if serving && cfg.Observability.Metrics.Enabled {
		a.metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 3: OpenAPI index and preset catalogs.
	a.index = openapi.NewIndex()
	if cfg.Backend.SpecFile != "" {
		if err := a.index.LoadFile(cfg.Backend.SpecFile); err != nil {
			return nil, err
		}
		a.metrics.SetOpenAPIOperationsIndexed(len(a.index.OperationIDs()))
	}
	if a.registry, err = loadRegistry(cfg.Catalog, a.index, a.logger); err != nil {
		a.metrics.RecordCatalogLoad("error")
		return nil, err
	}
	a.metrics.RecordCatalogLoad("ok")
	a.metrics.SetOperationsRegistered(a.registry.Len())

	// Step 4: backend transport.
	a.transport = invoker.NewHTTPTransport(cfg.Backend,
		invoker.WithIndex(a.index),
		invoker.WithLogger(a.logger),
		invoker.WithMetrics(a.metrics),
	)

	// Step 5: navigation history and audit trail.
	if a.history, err = a.openHistory(ctx); err != nil {
		a.close()
		return nil, err
	}
	if cfg.Audit.Enabled {
		if a.audit, err = a.openAudit(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadRegistry(cfg config.CatalogConfig, index *openapi.Index, logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New()
	if len(cfg.Directories) == 0 {
		return reg, nil
	}
	catalogs, err := registry.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}

	var idx *openapi.Index
	if len(index.OperationIDs()) > 0 {
		idx = index
	}
	verrs := registry.NewValidator().Validate(catalogs, idx)
	for _, ve := range verrs {
		logger.Warn("catalog validation", zap.String("path", ve.Path), zap.String("code", ve.Code), zap.String("error", ve.Message))
	}
	if errs := registry.Errors(verrs); len(errs) > 0 && cfg.Strict {
		return nil, fmt.Errorf("catalog validation failed with %d error(s): %w", len(errs), errs[0])
	}

	for _, c := range catalogs {
		reg.RegisterAll(c.Descriptors())
	}
	logger.Info("catalogs loaded", zap.Int("catalogs", len(catalogs)), zap.Int("operations", reg.Len()))
	return reg, nil
}

func (a *app) openHistory(ctx context.Context) (navigation.HistoryStore, error) {
	store := a.cfg.Session.Store
	switch store.Driver {
	case "memory", "":
		return navigation.NewMemoryHistoryStore(store.TTL), nil
	case "redis":
		addr := os.Getenv(store.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("session store: environment variable %s is empty", store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: store.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("session store: ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.redis = client
		return navigation.NewRedisHistoryStore(client, store.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported session store driver: %q", store.Driver)
	}
}

func (a *app) openAudit(ctx context.Context) (audit.Store, error) {
	switch a.cfg.Audit.Store.Driver {
	case "memory", "":
		return audit.NewMemoryStore(), nil
	case "postgres":
		store, err := audit.OpenPgStore(ctx, a.cfg.Audit.Store)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported audit store driver: %q", a.cfg.Audit.Store.Driver)
	}
}

// idempotencyStore shares the session store backend. It returns nil when
// replay is disabled.
func (a *app) idempotencyStore() idempotency.Store {
	if !a.cfg.Idempotency.Enabled {
		return nil
	}
	if a.redis != nil {
		return idempotency.NewRedisStore(a.redis)
	}
	return idempotency.NewMemoryStore()
}

// observers returns the run observers every engine gets.
func (a *app) observers() []engine.RunObserver {
	obs := []engine.RunObserver{engine.NewMetricsObserver(a.metrics)}
	if a.audit != nil {
		obs = append(obs, audit.NewRecorder(a.audit, a.logger))
	}
	return obs
}

// engineOptions maps the engine configuration to engine options.
func (a *app) engineOptions() []engine.Option {
	e := a.cfg.Engine
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithHomePath(e.HomePath),
		engine.WithMaxAutoRunChain(e.MaxAutoRunChain),
		engine.WithMaxConfirmationAttempts(e.MaxConfirmationAttempts),
		engine.WithRestrictToHostPageTypes(e.RestrictToHostPageTypes),
	}
	for _, obs := range a.observers() {
		opts = append(opts, engine.WithObserver(obs))
	}
	return opts
}

// lookup finds an operation by id or internal name.
func (a *app) lookup(key string) (*model.OperationDescriptor, error) {
	op, ok := a.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", key)
	}
	return op, nil
}
