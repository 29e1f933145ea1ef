package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/operations/internal/config"
	"github.com/pitabwire/operations/model"
)

// testDeps returns Dependencies with sensible defaults for testing.
func testDeps() Dependencies {
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 5 * time.Second
	return Dependencies{Config: cfg, Authenticate: fakeAuth}
}

// fakeAuth accepts every request as user-1, with the session taken from
// X-Test-Session when present.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := map[string]any{"sub": "user-1"}
		if sid := r.Header.Get("X-Test-Session"); sid != "" {
			claims["sid"] = sid
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, "tok-1")))
	})
}

// --- Router tests ---

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready_requiresOperations(t *testing.T) {
	deps := testDeps()
	r := NewRouter(deps)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with an empty registry", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_authenticatedRoutes_areRegistered(t *testing.T) {
	r := NewRouter(testDeps())
	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/v1/operations"},
		{"POST", "/v1/operations"},
		{"GET", "/v1/operations/x"},
		{"POST", "/v1/operations/x/run"},
		{"POST", "/v1/operations/x/page"},
		{"GET", "/v1/navigation"},
		{"POST", "/v1/navigation"},
		{"DELETE", "/v1/navigation"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
			if w.Code == http.StatusMethodNotAllowed || (w.Code == http.StatusNotFound && w.Body.Len() == 0) {
				t.Errorf("route not registered: status %d", w.Code)
			}
		})
	}
}

func TestNewRouter_authenticationRequired(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = JWTAuthenticator(testIdentityCfg(), testSecret)
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/operations", nil))
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))
	if w.Code != 200 {
		t.Errorf("health status = %d, want 200 without auth", w.Code)
	}
}

func TestRecovery_catchesPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Errorf("expected one panic log, got %v", logs.All())
	}
}

func TestRequestID_generated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if len(seen) != 32 {
		t.Errorf("correlation id = %q, want 32 hex chars", seen)
	}
	if got := w.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}

func TestRequestID_propagated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", seen)
	}
}

func TestSecurityHeaders_onHealth(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/health", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestBuildRequestContext(t *testing.T) {
	claims := map[string]any{"sub": "user-42", "sid": "sess-9"}

	var rctx *model.RequestContext
	handler := BuildRequestContext("web")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithClaims(req.Context(), claims, "raw-token"))
	req.Header.Set("Accept-Language", "en-US")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("RequestContext should be in context")
	}
	if rctx.SubjectID != "user-42" || rctx.SessionID != "sess-9" {
		t.Errorf("subject/session = %q/%q", rctx.SubjectID, rctx.SessionID)
	}
	if rctx.Token != "raw-token" {
		t.Errorf("Token = %q, want raw-token", rctx.Token)
	}
	if rctx.Channel != "web" || rctx.Locale != "en-US" {
		t.Errorf("channel/locale = %q/%q", rctx.Channel, rctx.Locale)
	}
}

func TestBuildRequestContext_sessionFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"header", "sess-h", "sess-h"},
		{"subject", "", "user-42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := BuildRequestContext("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = model.RequestContextFrom(r.Context()).SessionID
			}))
			req := httptest.NewRequest("GET", "/", nil)
			req = req.WithContext(WithClaims(req.Context(), map[string]any{"sub": "user-42"}, ""))
			if tc.header != "" {
				req.Header.Set("X-Session-Id", tc.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Errorf("SessionID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildRequestContext_missingSubject(t *testing.T) {
	handler := BuildRequestContext("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandlerTimeout_setsDeadline(t *testing.T) {
	handler := HandlerTimeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("expected a deadline")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestHandlerTimeout_zeroNoDeadline(t *testing.T) {
	handler := HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("expected no deadline")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestRequestLogging_capturesStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req = req.WithContext(model.WithRequestContext(context.Background(), &model.RequestContext{SubjectID: "u", SessionID: "s"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("request logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("status field = %v", fields["status"])
	}
	if fields["session_id"] != "s" {
		t.Errorf("session_id field = %v", fields["session_id"])
	}
}
