// Package invoker executes run requests against the operations REST API over
// HTTP, with circuit breaking and retries for idempotent requests.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/config"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/openapi"
	"github.com/pitabwire/operations/model"
)

// Response headers carrying result page metadata.
const (
	HeaderCurrentPage = "X-Current-Page"
	HeaderPageSize    = "X-Page-Size"
	HeaderTotalCount  = "X-Total-Count"
	HeaderHasNextPage = "X-Has-Next-Page"
)

// HTTPTransport implements model.Transport against the operations API.
type HTTPTransport struct {
	cfg         config.BackendConfig
	baseURL     string
	index       *openapi.Index
	client      *http.Client
	breaker     *CircuitBreaker
	breakerOpts []BreakerOption
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithIndex resolves endpoint ids through the OpenAPI index before falling
// back to the built-in path templates.
func WithIndex(idx *openapi.Index) Option {
	return func(t *HTTPTransport) { t.index = idx }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *HTTPTransport) { t.logger = l }
}

// WithMetrics records retries and circuit breaker transitions.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *HTTPTransport) { t.metrics = m }
}

// WithBreakerOptions passes options to the circuit breaker.
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(t *HTTPTransport) { t.breakerOpts = append(t.breakerOpts, opts...) }
}

// NewHTTPTransport creates a transport for the backend described by cfg.
func NewHTTPTransport(cfg config.BackendConfig, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}

	if t.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		t.client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if t.cfg.MaxResponseBytes <= 0 {
		t.cfg.MaxResponseBytes = 50 << 20
	}

	t.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if t.baseURL == "" {
		t.baseURL = t.index.BaseURL()
	}
	if t.metrics != nil {
		t.breakerOpts = append(t.breakerOpts, WithStateListener(func(from, to BreakerState) {
			t.metrics.SetBackendCircuitBreakerState(float64(to))
			t.logger.Warn("invoker: circuit breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}))
	}
	t.breaker = NewCircuitBreaker(cfg.CircuitBreaker, t.breakerOpts...)
	return t
}

// Breaker exposes the circuit breaker for health reporting.
func (t *HTTPTransport) Breaker() *CircuitBreaker {
	return t.breaker
}

// HealthCheck fails while the circuit breaker is open.
func (t *HTTPTransport) HealthCheck(context.Context) error {
	if t.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// response is a fully read backend response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// Invoke runs the request and decodes the outcome. Requests flagged
// AsBinary produce a BinaryOutcome, all others a JSONOutcome.
func (t *HTTPTransport) Invoke(ctx context.Context, spec model.RequestSpec) (model.Outcome, error) {
	resp, err := t.send(ctx, spec)
	if err != nil {
		return nil, err
	}

	if spec.AsBinary {
		ct := resp.header.Get("Content-Type")
		return model.BinaryOutcome{
			Blob:        resp.body,
			Filename:    filename(resp.header, spec, ct),
			ContentType: ct,
		}, nil
	}

	var result model.RunOperationResult
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &result); err != nil {
			return nil, fmt.Errorf("invoker: decode run result: %w", err)
		}
	}
	if page := pageInfo(resp.header); page != nil && result.Page == nil {
		result.Page = page
	}
	return model.JSONOutcome{Result: result}, nil
}

// FetchRunData retrieves the data-for-run payload.
func (t *HTTPTransport) FetchRunData(ctx context.Context, spec model.RequestSpec) (model.RunData, error) {
	resp, err := t.send(ctx, spec)
	if err != nil {
		return model.RunData{}, err
	}
	var data model.RunData
	if err := json.Unmarshal(resp.body, &data); err != nil {
		return model.RunData{}, fmt.Errorf("invoker: decode data for run: %w", err)
	}
	return data, nil
}

func (t *HTTPTransport) send(ctx context.Context, spec model.RequestSpec) (response, error) {
	method, pathTemplate := spec.Method, spec.PathTemplate
	if op, ok := t.index.Lookup(spec.Endpoint); ok {
		method, pathTemplate = strings.ToUpper(op.Method), op.PathTemplate
	}
	if method == "" || pathTemplate == "" {
		return response{}, fmt.Errorf("invoker: endpoint %q has no method or path", spec.Endpoint)
	}
	if missing := t.index.MissingParameters(spec.Endpoint, spec.PathParams, spec.QueryParams, spec.Headers); len(missing) > 0 {
		details := make([]model.FieldError, len(missing))
		for i, m := range missing {
			details[i] = model.FieldError{Field: m.Field, Code: "REQUIRED", Message: m.Message}
		}
		return response{}, model.NewValidationError(details)
	}

	reqURL := t.buildURL(pathTemplate, spec)
	body, contentType, err := encodeBody(method, spec)
	if err != nil {
		return response{}, err
	}
	headers := buildHeaders(ctx, spec, contentType, t.cfg.Channel)

	t.logger.Debug("invoker: sending request",
		zap.String("endpoint", spec.Endpoint),
		zap.String("method", method),
		zap.String("url", reqURL),
		zap.Bool("binary", spec.AsBinary),
	)

	resp, err := t.executeWithRetry(ctx, spec.Endpoint, method, reqURL, headers, body)
	if err != nil {
		return response{}, err
	}
	if resp.status < 200 || resp.status > 299 {
		return response{}, &model.DispatchError{StatusCode: resp.status, Body: resp.body}
	}
	return resp, nil
}

// executeWithRetry wraps executeOnce with retry logic and exponential backoff.
func (t *HTTPTransport) executeWithRetry(
	ctx context.Context,
	endpoint, method, reqURL string,
	headers http.Header,
	body []byte,
) (response, error) {
	retryCfg := t.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	canRetry := isIdempotentMethod(method) || !retryCfg.IdempotentOnly

	var lastErr error
	var lastResp response

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return response{}, &model.DispatchError{Err: ctx.Err()}
			case <-time.After(delay):
			}
			t.metrics.RecordBackendRetry(endpoint)
		}

		resp, err := t.executeOnce(ctx, method, reqURL, headers, body)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return response{}, err
			}
			t.logger.Debug("invoker: retrying after error",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(resp.status) && canRetry && attempt < maxAttempts-1 {
			lastResp = resp
			t.logger.Debug("invoker: retrying after status",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", resp.status),
			)
			continue
		}

		return resp, nil
	}

	if lastErr != nil {
		return response{}, lastErr
	}
	return lastResp, nil
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (t *HTTPTransport) executeOnce(
	ctx context.Context,
	method, reqURL string,
	headers http.Header,
	body []byte,
) (response, error) {
	if err := t.breaker.Allow(); err != nil {
		return response{}, &model.DispatchError{Err: model.NewBackendUnavailableError()}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return response{}, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header = headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		t.breaker.RecordFailure()
		if isConnectionError(err) {
			return response{}, &model.DispatchError{Err: model.NewBackendUnavailableError()}
		}
		if ctx.Err() != nil || isTimeout(err) {
			return response{}, &model.DispatchError{Err: model.NewBackendTimeoutError()}
		}
		return response{}, &model.DispatchError{Err: fmt.Errorf("invoker: request failed: %w", err)}
	}
	defer resp.Body.Close()

	// One byte past the limit tells a full body from a truncated one.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxResponseBytes+1))
	if err != nil {
		t.breaker.RecordFailure()
		return response{}, &model.DispatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invoker: read response: %w", err)}
	}
	if int64(len(respBody)) > t.cfg.MaxResponseBytes {
		return response{}, &model.DispatchError{StatusCode: resp.StatusCode, Err: &model.ErrorEnvelope{
			Code:    model.ErrBackendUnavailable,
			Message: fmt.Sprintf("backend response exceeds %d bytes", t.cfg.MaxResponseBytes),
		}}
	}

	// 4xx are not infrastructure failures.
	if isServerError(resp.StatusCode) {
		t.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		t.breaker.RecordSuccess()
	}

	return response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

// --- URL, header and body building ---

func (t *HTTPTransport) buildURL(pathTemplate string, spec model.RequestSpec) string {
	path := pathTemplate
	for name, value := range spec.PathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	result := t.baseURL + path
	if len(spec.QueryParams) > 0 {
		params := url.Values{}
		for k, v := range spec.QueryParams {
			params.Set(k, v)
		}
		result += "?" + params.Encode()
	}
	return result
}

func encodeBody(method string, spec model.RequestSpec) ([]byte, string, error) {
	if method == http.MethodGet || method == http.MethodHead {
		return nil, "", nil
	}

	params := spec.Body
	if params == nil {
		params = &model.RunBody{}
	}

	if spec.Upload == nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, "", fmt.Errorf("invoker: marshal body: %w", err)
		}
		return b, "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("invoker: marshal params: %w", err)
	}
	ph := make(textproto.MIMEHeader)
	ph.Set("Content-Disposition", `form-data; name="params"`)
	ph.Set("Content-Type", "application/json")
	pw, err := w.CreatePart(ph)
	if err != nil {
		return nil, "", fmt.Errorf("invoker: multipart params: %w", err)
	}
	if _, err := pw.Write(paramsJSON); err != nil {
		return nil, "", fmt.Errorf("invoker: multipart params: %w", err)
	}

	ct := spec.Upload.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	fh := make(textproto.MIMEHeader)
	fh.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": spec.Upload.Filename,
	}))
	fh.Set("Content-Type", ct)
	fw, err := w.CreatePart(fh)
	if err != nil {
		return nil, "", fmt.Errorf("invoker: multipart file: %w", err)
	}
	if _, err := fw.Write(spec.Upload.Content); err != nil {
		return nil, "", fmt.Errorf("invoker: multipart file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("invoker: multipart close: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func buildHeaders(ctx context.Context, spec model.RequestSpec, contentType, channel string) http.Header {
	h := make(http.Header)

	if spec.AsBinary {
		h.Set("Accept", "*/*")
	} else {
		h.Set("Accept", "application/json")
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if channel != "" {
		h.Set("Channel", sanitizeHeader(channel))
	}

	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.Locale != "" {
			h.Set("Accept-Language", sanitizeHeader(rctx.Locale))
		}
	}

	// Request headers go last so they can override the standard ones.
	for k, v := range spec.Headers {
		h.Set(sanitizeHeader(k), sanitizeHeader(v))
	}

	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// filename picks the download name from Content-Disposition, falling back
// to the operation key plus an extension for the content type.
func filename(h http.Header, spec model.RequestSpec, contentType string) string {
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}

	name := spec.OperationKey
	if name == "" {
		name = "download"
	}
	if spec.ExportFormat != "" {
		return name + "." + spec.ExportFormat
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return name + exts[0]
		}
	}
	return name
}

func pageInfo(h http.Header) *model.PageInfo {
	total := h.Get(HeaderTotalCount)
	next := h.Get(HeaderHasNextPage)
	if total == "" && next == "" {
		return nil
	}
	p := &model.PageInfo{}
	p.Page, _ = strconv.Atoi(h.Get(HeaderCurrentPage))
	p.PageSize, _ = strconv.Atoi(h.Get(HeaderPageSize))
	p.TotalCount, _ = strconv.Atoi(total)
	p.HasNextPage, _ = strconv.ParseBool(next)
	return p
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Classified failures, including an open breaker, are final.
	var env *model.ErrorEnvelope
	return !errors.As(err, &env)
}

func isConnectionError(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
