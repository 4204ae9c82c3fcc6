package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contenthub"

// Recorder owns a private Prometheus registry and the collectors the API
// reports into. The zero value is not usable; construct with New.
type Recorder struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	contentMutations *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	dependencyUp     *prometheus.GaugeVec
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New builds a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		contentMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_mutations_total",
			Help:      "Successful content writes by entity and action.",
		}, []string{"entity", "action"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by a rate limit policy.",
		}, []string{"policy"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image uploads by bucket and result.",
		}, []string{"bucket", "result"}),
		dependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "Result of the last health check per dependency (1 healthy, 0 failing).",
		}, []string{"service"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.requestDuration,
		r.contentMutations,
		r.rateLimited,
		r.uploads,
		r.dependencyUp,
	)
	return r
}

// Default returns the process-wide recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide recorder. Nil is ignored.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records a request against path with identifier-looking
// segments collapsed to ":id".
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	r.observe(method, normalizePath(path), status, duration)
}

func (r *Recorder) observe(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	r.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveContentMutation counts a create, update or delete of an article or
// video.
func (r *Recorder) ObserveContentMutation(entity, action string) {
	r.contentMutations.WithLabelValues(normalizeName(entity), normalizeName(action)).Inc()
}

func (r *Recorder) ObserveRateLimited(policy string) {
	r.rateLimited.WithLabelValues(normalizeName(policy)).Inc()
}

// ObserveUpload records the outcome of an upload; result is typically
// "stored", "rejected" or "failed".
func (r *Recorder) ObserveUpload(bucket, result string) {
	r.uploads.WithLabelValues(normalizeName(bucket), normalizeName(result)).Inc()
}

func (r *Recorder) SetDependencyHealth(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	r.dependencyUp.WithLabelValues(normalizeName(service)).Set(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder.
func Handler() http.Handler {
	return Default().Handler()
}
