package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operations gateway over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	// Step 1: shared dependencies, with logging and metrics.
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	secret := os.Getenv(cfg.Identity.SecretEnv)
	if secret == "" {
		return fmt.Errorf("identity: environment variable %s is empty", cfg.Identity.SecretEnv)
	}

	// Step 2: tracing.
	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "operations-gateway", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	// Step 3: readiness checks over the stores and the backend.
	readiness := observability.ReadinessChecks{
		OperationsLoaded: func() bool { return a.registry.Len() > 0 },
		Backend:          a.transport,
	}
	if hc, ok := a.history.(observability.HealthChecker); ok {
		readiness.HistoryStore = hc
	}
	if cfg.Backend.SpecFile != "" {
		readiness.OpenAPILoaded = func() bool { return len(a.index.OperationIDs()) > 0 }
	}
	if hc, ok := a.audit.(observability.HealthChecker); ok {
		readiness.AuditStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      a.metrics,
		Registry:     a.registry,
		Transport:    a.transport,
		History:      a.history,
		Idempotency:  a.idempotencyStore(),
		Authenticate: transport.JWTAuthenticator(cfg.Identity, []byte(secret)),
		Readiness:    readiness,
		Observers:    a.observers(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 4: serve until a signal or a listener error.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("operations", a.registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	// Step 5: drain in-flight requests, then flush telemetry.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
