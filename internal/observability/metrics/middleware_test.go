package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/widgets/abc12345", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(recorder.requests.WithLabelValues("GET", "/widgets/:id", "418"))
	if got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	recorder := New()
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler { return HTTPMiddleware(recorder, next) })
	router.Delete("/api/articles/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/articles/3f2a", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(recorder.requests.WithLabelValues("DELETE", "/api/articles/{id}", "200"))
	if got != 1 {
		t.Fatalf("expected route pattern label, got %v", got)
	}
}

func TestResponseRecorderKeepsFirstStatus(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	_, _ = rr.Write([]byte("hello"))
	rr.WriteHeader(http.StatusInternalServerError)

	if rr.Status() != http.StatusOK {
		t.Fatalf("expected implicit 200 to stick, got %d", rr.Status())
	}
	if rr.BytesWritten() != 5 {
		t.Fatalf("expected 5 bytes, got %d", rr.BytesWritten())
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	recorder := New()
	recorder.ObserveContentMutation("article", "create")
	recorder.ObserveRateLimited("login")
	recorder.ObserveUpload("article-images", "stored")
	recorder.SetDependencyHealth("database", true)

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`contenthub_content_mutations_total{action="create",entity="article"} 1`,
		`contenthub_rate_limit_rejections_total{policy="login"} 1`,
		`contenthub_uploads_total{bucket="article-images",result="stored"} 1`,
		`contenthub_dependency_up{service="database"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}

func TestSetDefault(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	custom := New()
	SetDefault(custom)
	SetDefault(nil)
	if Default() != custom {
		t.Fatal("expected custom recorder to remain default")
	}

	ObserveRequest("post", "/api/login", http.StatusOK, 0)
	if got := testutil.ToFloat64(custom.requests.WithLabelValues("POST", "/api/login", "200")); got != 1 {
		t.Fatalf("expected package helper to use default recorder, got %v", got)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                      "/",
		"/":                     "/",
		"/users/123":            "/users/:id",
		"/users/abc123def/":     "/users/:id",
		"streams/abc/456/extra": "/streams/abc/:id/extra",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}
