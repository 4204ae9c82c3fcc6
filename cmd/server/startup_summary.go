package main

import (
	"net/url"
	"strings"

	"contenthub/internal/config"
)

type startupSummary struct {
	mode          string
	addr          string
	tls           bool
	datastore     map[string]any
	objectStorage map[string]any
	rateLimit     map[string]any
	corsOrigins   []string
}

func newStartupSummary(cfg *config.Config) startupSummary {
	summary := startupSummary{
		mode:        cfg.Mode,
		addr:        cfg.Addr,
		tls:         cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "",
		corsOrigins: append([]string(nil), cfg.CORS.AllowedOrigins...),
	}

	summary.datastore = map[string]any{"driver": cfg.Storage.Driver}
	if cfg.Storage.Driver == config.DriverPostgres {
		summary.datastore["dsn"] = redactDSN(cfg.Storage.Postgres.DSN)
		summary.datastore["migrate"] = cfg.Storage.Postgres.Migrate
		if cfg.Storage.Postgres.MaxConns > 0 {
			summary.datastore["max_conns"] = cfg.Storage.Postgres.MaxConns
		}
	}

	obj := cfg.Storage.Object
	if strings.TrimSpace(obj.Endpoint) == "" {
		summary.objectStorage = map[string]any{"driver": "memory"}
		if cfg.Storage.PublicBaseURL != "" {
			summary.objectStorage["public_base_url"] = cfg.Storage.PublicBaseURL
		}
	} else {
		summary.objectStorage = map[string]any{
			"driver":                  "s3",
			"endpoint":                obj.Endpoint,
			"article_images_bucket":   obj.ArticleImagesBucket,
			"video_thumbnails_bucket": obj.VideoThumbnailsBucket,
			"path_style":              obj.UsePathStyle,
		}
		if obj.PublicEndpoint != "" {
			summary.objectStorage["public_endpoint"] = obj.PublicEndpoint
		}
	}

	rl := cfg.RateLimit
	summary.rateLimit = map[string]any{
		"driver":                  "memory",
		"trust_forwarded_headers": rl.TrustForwardedHeaders,
	}
	if strings.TrimSpace(rl.RedisAddr) != "" {
		summary.rateLimit["driver"] = "redis"
		summary.rateLimit["addr"] = rl.RedisAddr
		summary.rateLimit["db"] = rl.RedisDB
		summary.rateLimit["tls"] = rl.RedisTLS
	}
	if len(rl.TrustedProxies) > 0 {
		summary.rateLimit["trusted_proxies"] = append([]string(nil), rl.TrustedProxies...)
	}
	return summary
}

// LogArgs flattens the summary into slog key/value pairs.
func (s startupSummary) LogArgs() []any {
	return []any{
		"mode", s.mode,
		"addr", s.addr,
		"tls", s.tls,
		"datastore", s.datastore,
		"object_storage", s.objectStorage,
		"rate_limit", s.rateLimit,
		"cors_origins", s.corsOrigins,
	}
}

// redactDSN masks the password of URL-style DSNs and every password=
// pair of keyword/value DSNs.
func redactDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	if parsed, err := url.Parse(dsn); err == nil && parsed.Scheme != "" && parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), "*****")
		}
		return parsed.String()
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		key, _, found := strings.Cut(field, "=")
		if found && strings.EqualFold(key, "password") {
			fields[i] = key + "=*****"
		}
	}
	return strings.Join(fields, " ")
}
