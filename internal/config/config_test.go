package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.BaseURL != "https://bank.example.com/api" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 10*time.Second {
		t.Errorf("Backend.Timeout = %v, want 10s", cfg.Backend.Timeout)
	}
	if cfg.Backend.CircuitBreaker.FailureThreshold != 4 {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want 4", cfg.Backend.CircuitBreaker.FailureThreshold)
	}
	// Unset nested values keep their defaults.
	if cfg.Backend.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("CircuitBreaker.SuccessThreshold = %d, want default 2", cfg.Backend.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Engine.HomePath != "/dashboard" {
		t.Errorf("Engine.HomePath = %q, want /dashboard", cfg.Engine.HomePath)
	}
	if cfg.Engine.MaxAutoRunChain != 5 {
		t.Errorf("Engine.MaxAutoRunChain = %d, want 5", cfg.Engine.MaxAutoRunChain)
	}
	if cfg.Engine.MaxConfirmationAttempts != 3 {
		t.Errorf("Engine.MaxConfirmationAttempts = %d, want default 3", cfg.Engine.MaxConfirmationAttempts)
	}
	if cfg.Session.Store.Driver != "redis" {
		t.Errorf("Session.Store.Driver = %q, want redis", cfg.Session.Store.Driver)
	}
	if cfg.Session.Store.TTL != 2*time.Hour {
		t.Errorf("Session.Store.TTL = %v, want 2h", cfg.Session.Store.TTL)
	}
	if len(cfg.Catalog.Directories) != 1 {
		t.Errorf("Catalog.Directories = %v, want 1 entry", cfg.Catalog.Directories)
	}
}

func TestLoad_toml(t *testing.T) {
	cfg, err := Load("testdata/valid.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Backend.Timeout != 12*time.Second {
		t.Errorf("Backend.Timeout = %v, want 12s", cfg.Backend.Timeout)
	}
	if cfg.Engine.MaxConfirmationAttempts != 2 {
		t.Errorf("Engine.MaxConfirmationAttempts = %d, want 2", cfg.Engine.MaxConfirmationAttempts)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Store.Driver != "postgres" {
		t.Errorf("Audit = %+v, want enabled postgres", cfg.Audit)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_backend(t *testing.T) {
	_, err := Load("testdata/missing_backend.yaml")
	if err == nil {
		t.Fatal("Load() with missing backend should return error")
	}
	if !strings.Contains(err.Error(), "backend.base_url") {
		t.Errorf("error = %v, want mention of backend.base_url", err)
	}
}

func TestLoad_unsupported_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unsupported session driver should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.MaxAutoRunChain != 10 {
		t.Errorf("default Engine.MaxAutoRunChain = %d, want 10", cfg.Engine.MaxAutoRunChain)
	}
	if cfg.Engine.HomePath != "/home" {
		t.Errorf("default Engine.HomePath = %q, want /home", cfg.Engine.HomePath)
	}
	if !cfg.Engine.RestrictToHostPageTypes {
		t.Error("default Engine.RestrictToHostPageTypes = false, want true")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if !cfg.Idempotency.Enabled || cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("default Idempotency = %+v, want enabled for 24h", cfg.Idempotency)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPERATIONS_SERVER_PORT", "3000")
	t.Setenv("OPERATIONS_BACKEND_BASE_URL", "https://env.example.com/api")
	t.Setenv("OPERATIONS_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("OPERATIONS_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://env.example.com/api" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestLoadOrDefaults_no_file(t *testing.T) {
	t.Setenv("OPERATIONS_BACKEND_BASE_URL", "https://env.example.com/api")

	cfg, err := LoadOrDefaults("")
	if err != nil {
		t.Fatalf("LoadOrDefaults() error = %v", err)
	}
	if cfg.Backend.BaseURL != "https://env.example.com/api" {
		t.Errorf("Backend.BaseURL = %q, want env value", cfg.Backend.BaseURL)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://bank.example.com/api"
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_home_path(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://bank.example.com/api"
	cfg.Engine.HomePath = "home"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with relative home path should return error")
	}
}

func TestValidate_idempotency_ttl(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://bank.example.com/api"
	cfg.Idempotency.TTL = -time.Second

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with negative idempotency ttl should return error")
	}
}

func TestValidateServe(t *testing.T) {
	cfg := Defaults()
	if err := cfg.ValidateServe(); err == nil {
		t.Fatal("ValidateServe() without identity should return error")
	}
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.Audience = "opsctl"
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe() error = %v", err)
	}
}
