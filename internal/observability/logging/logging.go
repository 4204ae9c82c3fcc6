package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"contenthub/internal/observability/metrics"
)

type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Init builds a logger from cfg and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	switch LogFormat(strings.ToLower(strings.TrimSpace(cfg.Format))) {
	case FormatText:
		handler = slog.NewTextHandler(writer, options)
	default:
		handler = slog.NewJSONHandler(writer, options)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns logger annotated with a component field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
	loggerKey    contextKey = "logger"
)

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, trimmed)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(requestIDKey).(string)
	return value, ok && value != ""
}

// ContextWithActor records the authenticated identity so later log lines and
// the audit trail can attribute the request.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	trimmed := strings.TrimSpace(actor)
	if trimmed == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, trimmed)
}

func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(actorKey).(string)
	return value, ok && value != ""
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored on ctx or nil.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// WithContext annotates logger with the request id and actor held in ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		logger = logger.With("request_id", requestID)
	}
	if actor, ok := ActorFromContext(ctx); ok {
		logger = logger.With("actor", actor)
	}
	return logger
}

type RequestLoggerConfig struct {
	Logger            *slog.Logger
	DisableRemoteAddr bool
	// ClientIP resolves the address logged as client_ip. RemoteAddr is used
	// when nil.
	ClientIP         func(*http.Request) string
	AdditionalFields func(*http.Request, int, time.Duration) []any
}

// RequestLogger logs one line per request. 5xx responses log at error level
// and 4xx at warn.
func RequestLogger(cfg RequestLoggerConfig) func(http.Handler) http.Handler {
	baseLogger := cfg.Logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := metrics.NewResponseRecorder(w)
			start := time.Now()
			// The actor is only known after auth runs deeper in the chain, so
			// hand a mutable holder down and read it back afterwards.
			holder := &actorHolder{}
			r = r.WithContext(context.WithValue(r.Context(), actorHolderKey{}, holder))
			next.ServeHTTP(recorder, r)

			duration := time.Since(start)
			ctx := r.Context()
			if holder.actor != "" {
				ctx = ContextWithActor(ctx, holder.actor)
			}
			requestLogger := WithContext(ctx, baseLogger)

			status := recorder.Status()
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", recorder.BytesWritten(),
				"duration_ms", duration.Milliseconds(),
			}
			if !cfg.DisableRemoteAddr {
				addr := r.RemoteAddr
				if cfg.ClientIP != nil {
					addr = cfg.ClientIP(r)
				}
				attrs = append(attrs, "client_ip", addr)
			}
			if cfg.AdditionalFields != nil {
				attrs = append(attrs, cfg.AdditionalFields(r, status, duration)...)
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			requestLogger.Log(ctx, level, "request completed", attrs...)
		})
	}
}

type actorHolderKey struct{}

type actorHolder struct {
	actor string
}

// SetRequestActor reports the authenticated identity to an enclosing
// RequestLogger and returns ctx annotated with it.
func SetRequestActor(ctx context.Context, actor string) context.Context {
	if holder, ok := ctx.Value(actorHolderKey{}).(*actorHolder); ok {
		holder.actor = strings.TrimSpace(actor)
	}
	return ContextWithActor(ctx, actor)
}
