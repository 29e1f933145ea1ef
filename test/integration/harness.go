// Package integration provides a reusable test harness for end-to-end
// integration testing of the operations gateway. It starts the full HTTP
// router over the real backend transport, pointed at a mock operations API,
// with in-memory stores and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/audit"
	"github.com/pitabwire/operations/internal/config"
	"github.com/pitabwire/operations/internal/engine"
	"github.com/pitabwire/operations/internal/idempotency"
	"github.com/pitabwire/operations/internal/invoker"
	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/registry"
	"github.com/pitabwire/operations/internal/transport"
)

// TestHarness encapsulates a fully wired gateway with a mock backend.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry    *registry.Registry
	Transport   *invoker.HTTPTransport
	History     *navigation.MemoryHistoryStore
	Idempotency *idempotency.MemoryStore
	Audit       *audit.MemoryStore
	Backend     *MockBackend

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	catalogDirs    []string
	handlerTimeout time.Duration
	backendTimeout time.Duration
	maxChain       int
	breaker        config.CircuitBreakerConfig
}

// WithCatalogs sets the catalog directories to load.
func WithCatalogs(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.catalogDirs = dirs
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithBackendTimeout sets the backend request timeout.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.backendTimeout = d
	}
}

// WithMaxAutoRunChain sets the auto-run chain limit.
func WithMaxAutoRunChain(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.maxChain = n
	}
}

// WithCircuitBreaker sets the backend circuit breaker thresholds.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// NewTestHarness creates and starts a full gateway test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		backendTimeout: 5 * time.Second,
		maxChain:       engine.DefaultMaxAutoRunChain,
		breaker:        config.CircuitBreakerConfig{FailureThreshold: 50, SuccessThreshold: 1, Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.catalogDirs) == 0 {
		hc.catalogDirs = []string{filepath.Join(testdataDir(), "catalog")}
	}

	h := &TestHarness{t: t}

	// Step 1: mock operations API.
	h.Backend = newMockBackend(t)

	// Step 2: load and validate catalogs.
	catalogs, err := registry.NewLoader().LoadAll(hc.catalogDirs)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	if errs := registry.Errors(registry.NewValidator().Validate(catalogs, nil)); len(errs) > 0 {
		t.Fatalf("catalog validation: %v", errs)
	}
	h.Registry = registry.New()
	for _, c := range catalogs {
		h.Registry.RegisterAll(c.Descriptors())
	}

	// Step 3: JWT issuer and configuration.
	h.issuer = newTokenIssuer()
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Backend.BaseURL = h.Backend.URL()
	h.cfg.Backend.Timeout = hc.backendTimeout
	h.cfg.Backend.CircuitBreaker = hc.breaker
	h.cfg.Backend.Retry = config.RetryConfig{MaxAttempts: 1, IdempotentOnly: true}
	h.cfg.Engine.MaxAutoRunChain = hc.maxChain
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		Algorithms: []string{"HS256"},
	}
	h.cfg.Observability.Tracing.Enabled = false

	// Step 4: transport and stores.
	h.Transport = invoker.NewHTTPTransport(h.cfg.Backend)
	h.History = navigation.NewMemoryHistoryStore(time.Hour)
	h.Audit = audit.NewMemoryStore()
	h.Idempotency = idempotency.NewMemoryStore()

	// Step 5: router with the full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       zap.NewNop(),
		Registry:     h.Registry,
		Transport:    h.Transport,
		History:      h.History,
		Idempotency:  h.Idempotency,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, h.issuer.Secret()),
		Readiness: observability.ReadinessChecks{
			OperationsLoaded: func() bool { return h.Registry.Len() > 0 },
			HistoryStore:     h.History,
			AuditStore:       h.Audit,
			Backend:          h.Transport,
		},
		Observers: []engine.RunObserver{audit.NewRecorder(h.Audit, zap.NewNop())},
	})

	// Step 6: start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// TellerClaims returns TestClaims for a teller with a session id claim.
func TellerClaims() TestClaims {
	return TestClaims{SubjectID: "user-teller", SessionID: "sess-teller"}
}

// AdminClaims returns TestClaims for an administrator without a session id,
// so the subject doubles as the session.
func AdminClaims() TestClaims {
	return TestClaims{SubjectID: "user-admin"}
}

// --- Fixtures ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// NotificationFixture returns a notification run result.
func NotificationFixture(text, level string) map[string]any {
	return map[string]any{
		"resultType":        "notification",
		"notification":      text,
		"notificationLevel": level,
	}
}

// ErrorFixture returns a backend error body.
func ErrorFixture(code, message string) map[string]any {
	return map[string]any{"code": code, "message": message}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
