package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"contenthub/internal/api"
	"contenthub/internal/auth"
	"contenthub/internal/observability/logging"
	"contenthub/internal/observability/metrics"
	"contenthub/internal/ratelimit"
	"contenthub/internal/uploads"
)

const (
	DefaultJSONBodyLimit   int64 = 1 << 20
	DefaultUploadBodyLimit int64 = 8 << 20
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// BodyLimits caps request bodies; upload routes get the larger limit.
type BodyLimits struct {
	JSON   int64
	Upload int64
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	CORS      CORSConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	// Limiter holds the rate-limit counters. An in-process store is used
	// when nil.
	Limiter     *ratelimit.Limiter
	LoginPolicy ratelimit.Policy
	APIPolicy   ratelimit.Policy
	BodyLimits  BodyLimits
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	if handler.Metrics == nil {
		handler.Metrics = recorder
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(nil)
	}
	loginPolicy := cfg.LoginPolicy
	if loginPolicy.Name == "" {
		loginPolicy = ratelimit.LoginPolicy
	}
	apiPolicy := cfg.APIPolicy
	if apiPolicy.Name == "" {
		apiPolicy = ratelimit.APIPolicy
	}
	limits := cfg.BodyLimits
	if limits.JSON <= 0 {
		limits.JSON = DefaultJSONBodyLimit
	}
	if limits.Upload <= 0 {
		limits.Upload = DefaultUploadBodyLimit
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}
	resolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	router := chi.NewRouter()
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	})
	router.Use(
		func(next http.Handler) http.Handler { return requestIDMiddleware(logger, next) },
		logging.RequestLogger(logging.RequestLoggerConfig{
			Logger: logger,
			ClientIP: func(r *http.Request) string {
				ip, _ := resolveClientIP(r, resolver)
				return ip
			},
		}),
		func(next http.Handler) http.Handler { return metrics.HTTPMiddleware(recorder, next) },
		func(next http.Handler) http.Handler { return securityHeadersMiddleware(cfg.Security, next) },
		func(next http.Handler) http.Handler { return corsMiddleware(policy, logger, resolver, next) },
		func(next http.Handler) http.Handler { return bodyLimitMiddleware(limits, next) },
	)

	router.Get("/healthz", handler.Health)
	router.Head("/healthz", handler.Health)
	router.Handle("/metrics", recorder.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(limiter, apiPolicy, resolver, recorder, logger, next)
		})

		r.With(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(limiter, loginPolicy, resolver, recorder, logger, next)
		}).Post("/login", handler.Login)

		r.Get("/articles", handler.Articles)
		r.Get("/videos", handler.Videos)

		r.Group(func(admin chi.Router) {
			admin.Use(
				func(next http.Handler) http.Handler { return authMiddleware(handler, next) },
				func(next http.Handler) http.Handler { return auditMiddleware(cfg.AuditLogger, resolver, next) },
			)
			admin.Post("/articles", handler.Articles)
			admin.Put("/articles/{id}", handler.ArticleByID)
			admin.Delete("/articles/{id}", handler.ArticleByID)
			admin.Post("/videos", handler.Videos)
			admin.Put("/videos/{id}", handler.VideoByID)
			admin.Delete("/videos/{id}", handler.VideoByID)

			upload := admin.With(func(next http.Handler) http.Handler { return uploadLimitMiddleware(limits.Upload, next) })
			upload.Post("/upload/article-image", handler.UploadArticleImage)
			upload.Post("/upload/video-thumbnail", handler.UploadVideoThumbnail)
		})
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if strings.TrimSpace(cfg.TLS.CertFile) != "" && strings.TrimSpace(cfg.TLS.KeyFile) != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{httpServer: httpServer, handler: router}, nil
}

// HTTPServer returns the configured server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the routed middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// authMiddleware requires an admin bearer token and exposes the principal to
// the handlers and the request logger.
func authMiddleware(handler *api.Handler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := handler.AuthenticateRequest(r)
		if err != nil {
			writeMiddlewareError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
			return
		}
		if err := principal.RequireRole(auth.RoleAdmin); err != nil {
			writeMiddlewareError(w, http.StatusForbidden, auth.ErrForbidden.Error())
			return
		}
		ctx := api.ContextWithPrincipal(r.Context(), principal)
		ctx = logging.SetRequestActor(ctx, principal.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r)
		if !shouldAudit(r) {
			return
		}
		ip, _ := resolveClientIP(r, resolver)
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", ip,
		}
		logging.WithContext(r.Context(), logger).Info("audit", fields...)
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// bodyLimitMiddleware caps every body. Upload routes only get the larger
// reader cap here; their early size rejection runs after authentication.
func bodyLimitMiddleware(limits BodyLimits, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Body != http.NoBody {
			limit := limits.JSON
			if isUploadPath(r) {
				limit = limits.Upload
			} else if r.ContentLength > limit {
				writeMiddlewareError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// uploadLimitMiddleware rejects a declared upload body over the limit with
// the upload error message.
func uploadLimitMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			writeMiddlewareError(w, http.StatusBadRequest, uploads.ErrFileTooLarge.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isUploadPath(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/upload/")
}
