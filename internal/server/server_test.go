package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"contenthub/internal/api"
	"contenthub/internal/auth"
	"contenthub/internal/observability/logging"
	"contenthub/internal/observability/metrics"
	"contenthub/internal/ratelimit"
	"contenthub/internal/storage"
	"contenthub/internal/uploads"
)

// countingProvider records how many calls reach the relational provider.
type countingProvider struct {
	storage.Provider
	calls atomic.Int64
}

func (p *countingProvider) SelectOrdered(ctx context.Context, table, orderColumn string, descending bool) ([]storage.Row, error) {
	p.calls.Add(1)
	return p.Provider.SelectOrdered(ctx, table, orderColumn, descending)
}

func (p *countingProvider) Insert(ctx context.Context, table string, values storage.Row) (storage.Row, error) {
	p.calls.Add(1)
	return p.Provider.Insert(ctx, table, values)
}

func (p *countingProvider) UpdateByID(ctx context.Context, table, id string, values storage.Row) (storage.Row, bool, error) {
	p.calls.Add(1)
	return p.Provider.UpdateByID(ctx, table, id, values)
}

func (p *countingProvider) DeleteByID(ctx context.Context, table, id string) error {
	p.calls.Add(1)
	return p.Provider.DeleteByID(ctx, table, id)
}

func newTestHandler(t *testing.T) (*api.Handler, *countingProvider) {
	t.Helper()
	provider := &countingProvider{Provider: storage.NewMemoryProvider()}
	gateway, err := storage.NewGateway(provider, storage.NewMemoryObjectStore(""), storage.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewGateway error: %v", err)
	}
	tokens, err := auth.NewTokenService("server-test-secret")
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}
	credentials, err := auth.NewCredentials("admin", "s3cret", "")
	if err != nil {
		t.Fatalf("NewCredentials error: %v", err)
	}
	handler := api.NewHandler(gateway, tokens, credentials)
	handler.Logger = logging.Discard()
	return handler, provider
}

func newTestRecorder() *metrics.Recorder {
	return metrics.New()
}

func adminToken(t *testing.T, handler *api.Handler) string {
	t.Helper()
	token, _, err := handler.Tokens.Issue("admin")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	return token
}

func newTestServer(t *testing.T, handler *api.Handler, cfg Config) *Server {
	t.Helper()
	if cfg.Metrics == nil {
		cfg.Metrics = newTestRecorder()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func serve(srv *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:4000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestNewRejectsInvalidTrustedProxy(t *testing.T) {
	handler, _ := newTestHandler(t)
	if _, err := New(handler, Config{RateLimit: RateLimitConfig{TrustedProxies: []string{"not-a-cidr/99"}}}); err == nil {
		t.Fatal("expected error for invalid trusted proxy")
	}
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	token := adminToken(t, handler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		principal, ok := api.PrincipalFromContext(r.Context())
		if !ok {
			t.Fatal("expected principal in context")
		}
		if principal.Identity != "admin" {
			t.Fatalf("expected identity admin, got %s", principal.Identity)
		}
		actor, _ := logging.ActorFromContext(r.Context())
		if actor != "admin" {
			t.Fatalf("expected actor admin, got %q", actor)
		}
	})

	req := httptest.NewRequest(http.MethodPost, "/api/articles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/articles", nil)
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	past := time.Now().Add(-48 * time.Hour)
	expired, err := auth.NewTokenService("server-test-secret", auth.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}
	token, _, err := expired.Issue("admin")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/videos/v1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestMutationsWithoutTokenNeverReachProvider(t *testing.T) {
	handler, provider := newTestHandler(t)
	srv := newTestServer(t, handler, Config{})

	body := []byte(`{"title":"t","content":"c","category":"Politics","author":"a"}`)
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/articles"},
		{http.MethodPut, "/api/articles/a1"},
		{http.MethodDelete, "/api/articles/a1"},
		{http.MethodPost, "/api/videos"},
		{http.MethodPut, "/api/videos/v1"},
		{http.MethodDelete, "/api/videos/v1"},
		{http.MethodPost, "/api/upload/article-image"},
		{http.MethodPost, "/api/upload/video-thumbnail"},
	} {
		for _, token := range []string{"", "garbage"} {
			rec := serve(srv, tc.method, tc.path, token, body)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("%s %s with token %q: expected 401, got %d", tc.method, tc.path, token, rec.Code)
			}
		}
	}
	if calls := provider.calls.Load(); calls != 0 {
		t.Fatalf("expected no provider calls, got %d", calls)
	}
}

func TestRouterContentRoundTrip(t *testing.T) {
	handler, _ := newTestHandler(t)
	srv := newTestServer(t, handler, Config{})
	token := adminToken(t, handler)

	rec := serve(srv, http.MethodPost, "/api/articles", token, []byte(`{"title":"First","content":"Body","category":"Culture","author":"Ann"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = serve(srv, http.MethodPut, "/api/articles/"+created.ID, token, []byte(`{"title":"Renamed","content":"Body","category":"Culture","author":"Ann"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(srv, http.MethodGet, "/api/articles", "", nil)
	if !strings.Contains(rec.Body.String(), `"title":"Renamed"`) {
		t.Fatalf("expected renamed article in list, got %s", rec.Body.String())
	}

	rec = serve(srv, http.MethodDelete, "/api/articles/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}
	rec = serve(srv, http.MethodGet, "/api/articles", "", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list after delete, got %s", rec.Body.String())
	}
}

func TestLoginRateLimitBlocksSixthAttempt(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := newTestRecorder()
	srv := newTestServer(t, handler, Config{Metrics: recorder})

	for i := 0; i < 5; i++ {
		rec := serve(srv, http.MethodPost, "/api/login", "", []byte(`{"username":"admin","password":"wrong"}`))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := serve(srv, http.MethodPost, "/api/login", "", []byte(`{"username":"admin","password":"s3cret"}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != ratelimit.LoginPolicy.Message {
		t.Fatalf("unexpected message %q", payload["error"])
	}

	rec = serve(srv, http.MethodGet, "/api/articles", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected listing to stay available, got %d", rec.Code)
	}
}

func TestAPIRateLimitAppliesToAllRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)
	srv := newTestServer(t, handler, Config{
		APIPolicy: ratelimit.Policy{Name: "api", Limit: 2, Window: time.Minute, Message: ratelimit.APIPolicy.Message},
	})

	for i := 0; i < 2; i++ {
		if rec := serve(srv, http.MethodGet, "/api/videos", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := serve(srv, http.MethodGet, "/api/articles", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := serve(srv, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected health outside /api to be unaffected, got %d", rec.Code)
	}
}

func TestClientIPResolverIgnoresForwardedByDefault(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.10" {
		t.Fatalf("expected remote addr, got %q", ip)
	}
	if source != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source)
	}
}

func TestClientIPResolverTrustsForwardedWhenEnabled(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustForwardedHeaders: true})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1111"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.5" {
		t.Fatalf("expected first forwarded ip, got %q", ip)
	}
	if source != ipSourceXForwardedFor {
		t.Fatalf("expected source %q, got %q", ipSourceXForwardedFor, source)
	}
}

func TestClientIPResolverTrustedProxyCIDR(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "203.0.113.10")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.10" {
		t.Fatalf("expected real ip header, got %q", ip)
	}
	if source != ipSourceXRealIP {
		t.Fatalf("expected source %q, got %q", ipSourceXRealIP, source)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "198.51.100.20:4444"
	req2.Header.Set("X-Forwarded-For", "203.0.113.11")
	ip2, source2 := resolver.ClientIPFromRequest(req2)
	if ip2 != "198.51.100.20" {
		t.Fatalf("expected remote addr for untrusted proxy, got %q", ip2)
	}
	if source2 != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source2)
	}
}

func TestRateLimitMiddlewareSpoofedHeadersIgnoredByDefault(t *testing.T) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore(16, time.Minute))
	policy := ratelimit.Policy{Name: "login", Limit: 1, Window: time.Minute, Message: "slow down"}
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(limiter, policy, resolver, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req1.RemoteAddr = "198.51.100.1:1234"
	req1.Header.Set("X-Forwarded-For", "203.0.113.1")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req2.RemoteAddr = "198.51.100.1:5678"
	req2.Header.Set("X-Forwarded-For", "203.0.113.2")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestRateLimitMiddlewareHonorsTrustedForwardedHeaders(t *testing.T) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore(16, time.Minute))
	policy := ratelimit.Policy{Name: "login", Limit: 1, Window: time.Minute, Message: "slow down"}
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(limiter, policy, resolver, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, forwarded := range []string{"203.0.113.50", "203.0.113.51", "203.0.113.50"} {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "10.1.2.3:9999"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		want := http.StatusNoContent
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d from %s: expected %d, got %d", i+1, forwarded, want, rec.Code)
		}
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, int, time.Duration, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, io.ErrUnexpectedEOF
}

func TestRateLimitMiddlewareFailsClosed(t *testing.T) {
	handler := rateLimitMiddleware(ratelimit.New(failingStore{}), ratelimit.LoginPolicy, nil, nil, logging.Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuditMiddlewareLogsMutations(t *testing.T) {
	handler, _ := newTestHandler(t)
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))
	srv := newTestServer(t, handler, Config{AuditLogger: audit})
	token := adminToken(t, handler)

	serve(srv, http.MethodGet, "/api/videos", "", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no audit line for reads, got %s", buf.String())
	}

	rec := serve(srv, http.MethodDelete, "/api/videos/missing", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode audit line: %v (%s)", err, buf.String())
	}
	if payload["msg"] != "audit" || payload["actor"] != "admin" || payload["method"] != http.MethodDelete {
		t.Fatalf("unexpected audit line: %v", payload)
	}
}

func TestBodyLimitRejectsOversizedJSON(t *testing.T) {
	handler, provider := newTestHandler(t)
	srv := newTestServer(t, handler, Config{BodyLimits: BodyLimits{JSON: 64}})
	token := adminToken(t, handler)

	body := []byte(`{"title":"` + strings.Repeat("x", 128) + `","content":"c","category":"Politics","author":"a"}`)
	rec := serve(srv, http.MethodPost, "/api/articles", token, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if calls := provider.calls.Load(); calls != 0 {
		t.Fatalf("expected no provider calls, got %d", calls)
	}
}

func TestOversizedUploadAuthenticatesFirst(t *testing.T) {
	handler, provider := newTestHandler(t)
	srv := newTestServer(t, handler, Config{BodyLimits: BodyLimits{Upload: 1024}})
	token := adminToken(t, handler)
	body := bytes.Repeat([]byte("x"), 2048)

	rec := serve(srv, http.MethodPost, "/api/upload/article-image", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous upload, got %d", rec.Code)
	}

	rec = serve(srv, http.MethodPost, "/api/upload/article-image", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized upload, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload["error"] != uploads.ErrFileTooLarge.Message {
		t.Fatalf("unexpected error message %q", payload["error"])
	}
	if calls := provider.calls.Load(); calls != 0 {
		t.Fatalf("expected no provider calls, got %d", calls)
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	handler, _ := newTestHandler(t)
	srv := newTestServer(t, handler, Config{})

	serve(srv, http.MethodGet, "/api/articles", "", nil)
	rec := serve(srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `contenthub_http_requests_total{method="GET",path="/api/articles",status="200"} 1`) {
		t.Fatalf("expected request counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	handler, _ := newTestHandler(t)
	srv := newTestServer(t, handler, Config{})

	rec := serve(srv, http.MethodGet, "/api/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
}
