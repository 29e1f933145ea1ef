// Package config loads and validates application configuration from YAML or
// TOML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Backend       BackendConfig       `yaml:"backend" toml:"backend"`
	Engine        EngineConfig        `yaml:"engine" toml:"engine"`
	Catalog       CatalogConfig       `yaml:"catalog" toml:"catalog"`
	Session       SessionConfig       `yaml:"session" toml:"session"`
	Identity      IdentityConfig      `yaml:"identity" toml:"identity"`
	Audit         AuditConfig         `yaml:"audit" toml:"audit"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency" toml:"idempotency"`
	Terminal      TerminalConfig      `yaml:"terminal" toml:"terminal"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
}

// ServerConfig describes HTTP gateway settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout" toml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// BackendConfig describes the operations API that runs are dispatched to.
type BackendConfig struct {
	BaseURL          string               `yaml:"base_url" toml:"base_url"`
	SpecFile         string               `yaml:"spec_file" toml:"spec_file"`
	Channel          string               `yaml:"channel" toml:"channel"`
	Timeout          time.Duration        `yaml:"timeout" toml:"timeout"`
	MaxResponseBytes int64                `yaml:"max_response_bytes" toml:"max_response_bytes"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
	Retry            RetryConfig          `yaml:"retry" toml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" toml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" toml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" toml:"timeout"`
}

// RetryConfig describes retry settings for the backend.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" toml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial" toml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max" toml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only" toml:"idempotent_only"`
}

// EngineConfig describes run pipeline settings.
type EngineConfig struct {
	HomePath                string `yaml:"home_path" toml:"home_path"`
	MaxAutoRunChain         int    `yaml:"max_auto_run_chain" toml:"max_auto_run_chain"`
	MaxConfirmationAttempts int    `yaml:"max_confirmation_attempts" toml:"max_confirmation_attempts"`
	RestrictToHostPageTypes bool   `yaml:"restrict_to_host_page_types" toml:"restrict_to_host_page_types"`
}

// CatalogConfig describes where preset operation catalogs live.
type CatalogConfig struct {
	Directories []string `yaml:"directories" toml:"directories"`
	Strict      bool     `yaml:"strict" toml:"strict"`
}

// SessionConfig describes per-session navigation history storage.
type SessionConfig struct {
	Store SessionStoreConfig `yaml:"store" toml:"store"`
}

// SessionStoreConfig describes navigation history persistence settings.
type SessionStoreConfig struct {
	Driver  string        `yaml:"driver" toml:"driver"`
	AddrEnv string        `yaml:"addr_env" toml:"addr_env"`
	DB      int           `yaml:"db" toml:"db"`
	TTL     time.Duration `yaml:"ttl" toml:"ttl"`
}

// IdentityConfig describes JWT validation for the HTTP gateway.
type IdentityConfig struct {
	Issuer     string   `yaml:"issuer" toml:"issuer"`
	Audience   string   `yaml:"audience" toml:"audience"`
	SecretEnv  string   `yaml:"secret_env" toml:"secret_env"`
	Algorithms []string `yaml:"algorithms" toml:"algorithms"`
}

// AuditConfig describes the run audit trail.
type AuditConfig struct {
	Enabled bool             `yaml:"enabled" toml:"enabled"`
	Store   AuditStoreConfig `yaml:"store" toml:"store"`
}

// AuditStoreConfig describes audit persistence settings.
type AuditStoreConfig struct {
	Driver          string        `yaml:"driver" toml:"driver"`
	DSNEnv          string        `yaml:"dsn_env" toml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

// IdempotencyConfig controls replay of gateway runs submitted with an
// Idempotency-Key header. Results share the session store backend.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	TTL     time.Duration `yaml:"ttl" toml:"ttl"`
}

// TerminalConfig describes the CLI collaborators.
type TerminalConfig struct {
	DownloadDir string `yaml:"download_dir" toml:"download_dir"`
	NoColor     bool   `yaml:"no_color" toml:"no_color"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level" toml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing" toml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	Exporter     string  `yaml:"exporter" toml:"exporter"`
	Endpoint     string  `yaml:"endpoint" toml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Timeout:          15 * time.Second,
			MaxResponseBytes: 50 << 20,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
				IdempotentOnly:    true,
			},
		},
		Engine: EngineConfig{
			HomePath:                "/home",
			MaxAutoRunChain:         10,
			MaxConfirmationAttempts: 3,
			RestrictToHostPageTypes: true,
		},
		Session: SessionConfig{
			Store: SessionStoreConfig{
				Driver: "memory",
				TTL:    8 * time.Hour,
			},
		},
		Identity: IdentityConfig{
			SecretEnv:  "OPERATIONS_JWT_SECRET",
			Algorithms: []string{"HS256"},
		},
		Audit: AuditConfig{
			Store: AuditStoreConfig{
				Driver:          "memory",
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a config file, applies environment variable overrides, and
// validates required fields. Files ending in .toml are parsed as TOML, all
// others as YAML.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults loads path when it is non-empty, otherwise returns the
// defaults with environment overrides applied and validated.
func LoadOrDefaults(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Defaults()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Engine.MaxAutoRunChain < 1 {
		errs = append(errs, "engine.max_auto_run_chain must be positive")
	}
	if c.Engine.MaxConfirmationAttempts < 1 {
		errs = append(errs, "engine.max_confirmation_attempts must be positive")
	}
	if !strings.HasPrefix(c.Engine.HomePath, "/") {
		errs = append(errs, "engine.home_path must start with /")
	}
	switch c.Session.Store.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.store.driver %q is not supported", c.Session.Store.Driver))
	}
	switch c.Audit.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("audit.store.driver %q is not supported", c.Audit.Store.Driver))
	}
	if c.Idempotency.TTL < 0 {
		errs = append(errs, "idempotency.ttl must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateServe checks the additional settings the HTTP gateway needs.
func (c *Config) ValidateServe() error {
	var errs []string
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.secret_env is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads OPERATIONS_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPERATIONS_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OPERATIONS_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("OPERATIONS_BACKEND_SPEC_FILE"); v != "" {
		cfg.Backend.SpecFile = v
	}
	if v := os.Getenv("OPERATIONS_ENGINE_HOME_PATH"); v != "" {
		cfg.Engine.HomePath = v
	}
	if v := os.Getenv("OPERATIONS_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("OPERATIONS_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("OPERATIONS_SESSION_STORE_DRIVER"); v != "" {
		cfg.Session.Store.Driver = v
	}
	if v := os.Getenv("OPERATIONS_TERMINAL_DOWNLOAD_DIR"); v != "" {
		cfg.Terminal.DownloadDir = v
	}
	if v := os.Getenv("OPERATIONS_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
