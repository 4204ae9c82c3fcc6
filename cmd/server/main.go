// Command server starts the contenthub API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"contenthub/internal/api"
	"contenthub/internal/auth"
	"contenthub/internal/config"
	"contenthub/internal/observability/logging"
	"contenthub/internal/observability/metrics"
	"contenthub/internal/ratelimit"
	"contenthub/internal/server"
	"contenthub/internal/serverutil"
	"contenthub/internal/storage"
)

type cliFlags struct {
	configPath              string
	addr                    string
	mode                    string
	storageDriver           string
	postgresDSN             string
	postgresMaxConns        int
	postgresMinConns        int
	postgresMaxConnLifetime time.Duration
	postgresMaxConnIdle     time.Duration
	postgresHealthInterval  time.Duration
	postgresAcquireTimeout  time.Duration
	postgresAppName         string
	migrate                 bool
	logLevel                string
	logFormat               string
	tlsCert                 string
	tlsKey                  string
	allowedOrigins          string
	trustForwarded          bool
	trustedProxies          string
	redisAddr               string
	shutdownTimeout         time.Duration
}

func parseFlags(args []string, output io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.mode, "mode", "", "server runtime mode (development or production)")
	fs.StringVar(&f.storageDriver, "storage-driver", "", "content storage driver (memory or postgres)")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", "", "Postgres connection string")
	fs.IntVar(&f.postgresMaxConns, "postgres-max-conns", 0, "maximum connections in the Postgres pool")
	fs.IntVar(&f.postgresMinConns, "postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	fs.DurationVar(&f.postgresMaxConnLifetime, "postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	fs.DurationVar(&f.postgresMaxConnIdle, "postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	fs.DurationVar(&f.postgresHealthInterval, "postgres-health-interval", 0, "interval between Postgres health checks")
	fs.DurationVar(&f.postgresAcquireTimeout, "postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	fs.StringVar(&f.postgresAppName, "postgres-app-name", "", "application_name reported to Postgres")
	fs.BoolVar(&f.migrate, "migrate", false, "apply pending schema migrations at startup")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&f.tlsKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&f.allowedOrigins, "allowed-origins", "", "comma separated origins allowed by CORS")
	fs.BoolVar(&f.trustForwarded, "rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	fs.StringVar(&f.trustedProxies, "rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	fs.StringVar(&f.redisAddr, "rate-redis-addr", "", "Redis address for shared rate-limit counters")
	fs.DurationVar(&f.shutdownTimeout, "shutdown-timeout", 0, "graceful shutdown deadline")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	if fs.NArg() > 0 {
		return cliFlags{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return f, nil
}

// applyFlags overrides cfg with every flag that was set. A DSN passed on the
// command line without an explicit driver selects postgres.
func applyFlags(cfg *config.Config, f cliFlags) {
	cfg.Addr = firstNonEmpty(f.addr, cfg.Addr)
	cfg.Mode = strings.ToLower(firstNonEmpty(f.mode, cfg.Mode))
	cfg.LogLevel = firstNonEmpty(f.logLevel, cfg.LogLevel)
	cfg.LogFormat = firstNonEmpty(f.logFormat, cfg.LogFormat)
	cfg.TLS.CertFile = firstNonEmpty(f.tlsCert, cfg.TLS.CertFile)
	cfg.TLS.KeyFile = firstNonEmpty(f.tlsKey, cfg.TLS.KeyFile)
	cfg.ShutdownTimeout = resolveDuration(f.shutdownTimeout, cfg.ShutdownTimeout)
	if origins := splitAndTrim(f.allowedOrigins); len(origins) > 0 {
		cfg.CORS.AllowedOrigins = origins
	}

	pg := &cfg.Storage.Postgres
	if dsn := strings.TrimSpace(f.postgresDSN); dsn != "" {
		pg.DSN = dsn
		if strings.TrimSpace(f.storageDriver) == "" {
			cfg.Storage.Driver = config.DriverPostgres
		}
	}
	cfg.Storage.Driver = strings.ToLower(firstNonEmpty(f.storageDriver, cfg.Storage.Driver))
	if f.postgresMaxConns > 0 {
		pg.MaxConns = f.postgresMaxConns
	}
	if f.postgresMinConns > 0 {
		pg.MinConns = f.postgresMinConns
	}
	pg.MaxConnLifetime = resolveDuration(f.postgresMaxConnLifetime, pg.MaxConnLifetime)
	pg.MaxConnIdle = resolveDuration(f.postgresMaxConnIdle, pg.MaxConnIdle)
	pg.HealthInterval = resolveDuration(f.postgresHealthInterval, pg.HealthInterval)
	pg.AcquireTimeout = resolveDuration(f.postgresAcquireTimeout, pg.AcquireTimeout)
	pg.AppName = firstNonEmpty(f.postgresAppName, pg.AppName)
	pg.Migrate = pg.Migrate || f.migrate

	rl := &cfg.RateLimit
	rl.TrustForwardedHeaders = rl.TrustForwardedHeaders || f.trustForwarded
	if proxies := splitAndTrim(f.trustedProxies); len(proxies) > 0 {
		rl.TrustedProxies = proxies
	}
	rl.RedisAddr = firstNonEmpty(f.redisAddr, rl.RedisAddr)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "server: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(firstNonEmpty(flags.configPath, os.Getenv("CONTENTHUB_CONFIG")))
	if err != nil {
		return err
	}
	applyFlags(cfg, flags)

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hooks []serverutil.Hook

	provider, closeProvider, err := openProvider(ctx, cfg)
	if err != nil {
		logger.Error("failed to open content store", "driver", cfg.Storage.Driver, "error", err)
		return err
	}
	if closeProvider != nil {
		hooks = append(hooks, serverutil.Hook{Name: "postgres", Fn: closeProvider})
	}

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to configure object storage", "error", err)
		return errors.Join(err, runHooksNow(hooks))
	}

	gateway, err := storage.NewGateway(provider, objects, storage.WithLogger(logging.WithComponent(logger, "storage")))
	if err != nil {
		return errors.Join(err, runHooksNow(hooks))
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		logger.Error("failed to configure tokens", "error", err)
		return errors.Join(err, runHooksNow(hooks))
	}
	credentials, err := auth.NewCredentials(cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.PasswordHash)
	if err != nil {
		logger.Error("failed to configure admin credentials", "error", err)
		return errors.Join(err, runHooksNow(hooks))
	}

	store, closeStore, err := openRateLimitStore(cfg.RateLimit)
	if err != nil {
		logger.Error("failed to configure rate limit store", "error", err)
		return errors.Join(err, runHooksNow(hooks))
	}
	if closeStore != nil {
		hooks = append(hooks, serverutil.Hook{Name: "redis", Fn: closeStore})
	}
	limiter := ratelimit.New(store)

	handler := api.NewHandler(gateway, tokens, credentials)
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	handler.HealthChecks = []api.HealthCheck{
		{Name: "database", Check: gateway.Ping},
		{Name: "object-storage", Check: gateway.PingObjects},
	}
	if closeStore != nil {
		handler.HealthChecks = append(handler.HealthChecks, api.HealthCheck{Name: "rate-limit", Check: limiter.Ping})
	}

	tlsCfg := server.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile}
	srv, err := server.New(handler, server.Config{
		Addr:        cfg.Addr,
		TLS:         tlsCfg,
		CORS:        server.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		RateLimit:   server.RateLimitConfig{TrustForwardedHeaders: cfg.RateLimit.TrustForwardedHeaders, TrustedProxies: cfg.RateLimit.TrustedProxies},
		Limiter:     limiter,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		return errors.Join(err, runHooksNow(hooks))
	}

	logger.Info("starting contenthub", newStartupSummary(cfg).LogArgs()...)

	return serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: tlsCfg.CertFile, KeyFile: tlsCfg.KeyFile},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Ready: func(addr net.Addr) {
			logger.Info("contenthub API listening", "addr", addr.String(), "mode", cfg.Mode)
			if tlsCfg.CertFile != "" {
				logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
			}
			logger.Info("metrics endpoint available", "path", "/metrics")
		},
		OnShutdown: hooks,
	})
}

func openProvider(ctx context.Context, cfg *config.Config) (storage.Provider, func(context.Context) error, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return storage.NewMemoryProvider(), nil, nil
	case config.DriverPostgres:
		pg := cfg.Storage.Postgres
		opts := []storage.Option{
			storage.WithPostgresPoolLimits(int32(pg.MaxConns), int32(pg.MinConns)),
			storage.WithPostgresAcquireTimeout(pg.AcquireTimeout),
			storage.WithPostgresPoolDurations(pg.MaxConnLifetime, pg.MaxConnIdle, pg.HealthInterval),
			storage.WithPostgresApplicationName(firstNonEmpty(pg.AppName, "contenthub")),
			storage.WithQueryTimeout(pg.QueryTimeout),
			storage.WithMigrations(pg.Migrate),
		}
		provider, err := storage.NewPostgresProvider(ctx, pg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return provider, provider.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// openObjectStore keeps uploads in memory unless an S3 endpoint is configured.
func openObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	obj := cfg.Storage.Object
	if strings.TrimSpace(obj.Endpoint) == "" {
		return storage.NewMemoryObjectStore(cfg.Storage.PublicBaseURL), nil
	}
	return storage.NewS3ObjectStore(ctx, storage.ObjectStorageConfig{
		Endpoint:              obj.Endpoint,
		Region:                obj.Region,
		AccessKey:             obj.AccessKey,
		SecretKey:             obj.SecretKey,
		PublicEndpoint:        obj.PublicEndpoint,
		UsePathStyle:          obj.UsePathStyle,
		ArticleImagesBucket:   obj.ArticleImagesBucket,
		VideoThumbnailsBucket: obj.VideoThumbnailsBucket,
		RequestTimeout:        obj.RequestTimeout,
	})
}

func openRateLimitStore(cfg config.RateLimitConfig) (ratelimit.Store, func(context.Context) error, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return ratelimit.NewMemoryStore(ratelimit.DefaultMemoryStoreSize, ratelimit.APIPolicy.Window), nil, nil
	}
	store, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.RedisTimeout,
		UseTLS:   cfg.RedisTLS,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func(context.Context) error { return store.Close() }, nil
}

// runHooksNow releases resources opened before startup failed.
func runHooksNow(hooks []serverutil.Hook) error {
	ctx, cancel := context.WithTimeout(context.Background(), serverutil.DefaultShutdownTimeout)
	defer cancel()
	var errs []error
	for _, hook := range hooks {
		if err := hook.Fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
		}
	}
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveDuration(flagValue, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return fallback
}
