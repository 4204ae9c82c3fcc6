// Package config resolves the server settings from a .env file, an optional
// YAML file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Mode            string          `yaml:"mode"`
	Addr            string          `yaml:"addr"`
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	TLS             TLSConfig       `yaml:"tls"`
	Admin           AdminConfig     `yaml:"admin"`
	Auth            AuthConfig      `yaml:"auth"`
	CORS            CORSConfig      `yaml:"cors"`
	Storage         StorageConfig   `yaml:"storage"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type AdminConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	Object   ObjectConfig   `yaml:"object"`
	// PublicBaseURL prefixes asset URLs served by the memory object store.
	PublicBaseURL string `yaml:"public_base_url"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdle     time.Duration `yaml:"max_conn_idle"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	AppName         string        `yaml:"app_name"`
	Migrate         bool          `yaml:"migrate"`
}

type ObjectConfig struct {
	Endpoint              string        `yaml:"endpoint"`
	Region                string        `yaml:"region"`
	AccessKey             string        `yaml:"access_key"`
	SecretKey             string        `yaml:"secret_key"`
	PublicEndpoint        string        `yaml:"public_endpoint"`
	UsePathStyle          bool          `yaml:"use_path_style"`
	ArticleImagesBucket   string        `yaml:"article_images_bucket"`
	VideoThumbnailsBucket string        `yaml:"video_thumbnails_bucket"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
}

type RateLimitConfig struct {
	RedisAddr             string        `yaml:"redis_addr"`
	RedisUsername         string        `yaml:"redis_username"`
	RedisPassword         string        `yaml:"redis_password"`
	RedisDB               int           `yaml:"redis_db"`
	RedisTimeout          time.Duration `yaml:"redis_timeout"`
	RedisTLS              bool          `yaml:"redis_tls"`
	TrustForwardedHeaders bool          `yaml:"trust_forwarded_headers"`
	TrustedProxies        []string      `yaml:"trusted_proxies"`
}

// Load reads .env (when present), then path (when non-empty), then the
// environment. It does not validate; call Validate on the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.Expand(string(data), func(key string) string {
			value, _ := lookup(key)
			return value
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	env := envReader{lookup: lookup}
	env.applyTo(cfg)
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":5000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		if strings.TrimSpace(c.Storage.Postgres.DSN) != "" {
			c.Storage.Driver = DriverPostgres
		} else {
			c.Storage.Driver = DriverMemory
		}
	}
	if c.Storage.Object.ArticleImagesBucket == "" {
		c.Storage.Object.ArticleImagesBucket = "article-images"
	}
	if c.Storage.Object.VideoThumbnailsBucket == "" {
		c.Storage.Object.VideoThumbnailsBucket = "video-thumbnails"
	}
	if c.RateLimit.RedisTimeout <= 0 {
		c.RateLimit.RedisTimeout = 2 * time.Second
	}
	c.CORS.AllowedOrigins = cleanList(c.CORS.AllowedOrigins)
	c.RateLimit.TrustedProxies = cleanList(c.RateLimit.TrustedProxies)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%s is required", name))
	}

	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("unsupported mode %q", c.Mode))
	}
	if strings.TrimSpace(c.Admin.Username) == "" {
		missing("CONTENTHUB_ADMIN_USERNAME")
	}
	if c.Admin.Password == "" && strings.TrimSpace(c.Admin.PasswordHash) == "" {
		missing("CONTENTHUB_ADMIN_PASSWORD or CONTENTHUB_ADMIN_PASSWORD_HASH")
	}
	if c.Auth.JWTSecret == "" {
		missing("CONTENTHUB_JWT_SECRET")
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		missing("CONTENTHUB_ALLOWED_ORIGINS")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("both CONTENTHUB_TLS_CERT and CONTENTHUB_TLS_KEY must be provided"))
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			missing("CONTENTHUB_POSTGRES_DSN")
		}
		if strings.TrimSpace(c.Storage.Object.Endpoint) == "" {
			missing("CONTENTHUB_OBJECT_ENDPOINT")
		}
		if strings.TrimSpace(c.Storage.Object.AccessKey) == "" {
			missing("CONTENTHUB_OBJECT_ACCESS_KEY")
		}
		if strings.TrimSpace(c.Storage.Object.SecretKey) == "" {
			missing("CONTENTHUB_OBJECT_SECRET_KEY")
		}
	case DriverMemory:
		if c.Mode == ModeProduction {
			errs = append(errs, errors.New("production mode requires the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) applyTo(c *Config) {
	e.str(&c.Mode, "CONTENTHUB_MODE")
	e.str(&c.Addr, "CONTENTHUB_ADDR")
	if port, ok := e.first("PORT"); ok && c.Addr == "" {
		c.Addr = ":" + port
	}
	e.str(&c.LogLevel, "CONTENTHUB_LOG_LEVEL")
	e.str(&c.LogFormat, "CONTENTHUB_LOG_FORMAT")
	e.duration(&c.ShutdownTimeout, "CONTENTHUB_SHUTDOWN_TIMEOUT")
	e.str(&c.TLS.CertFile, "CONTENTHUB_TLS_CERT")
	e.str(&c.TLS.KeyFile, "CONTENTHUB_TLS_KEY")

	e.str(&c.Admin.Username, "CONTENTHUB_ADMIN_USERNAME", "ADMIN_USERNAME")
	e.raw(&c.Admin.Password, "CONTENTHUB_ADMIN_PASSWORD", "ADMIN_PASSWORD")
	e.str(&c.Admin.PasswordHash, "CONTENTHUB_ADMIN_PASSWORD_HASH")
	e.raw(&c.Auth.JWTSecret, "CONTENTHUB_JWT_SECRET", "JWT_SECRET")
	e.duration(&c.Auth.TokenTTL, "CONTENTHUB_TOKEN_TTL")
	e.list(&c.CORS.AllowedOrigins, "CONTENTHUB_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")

	s := &c.Storage
	e.str(&s.Driver, "CONTENTHUB_STORAGE_DRIVER")
	e.str(&s.PublicBaseURL, "CONTENTHUB_PUBLIC_BASE_URL")
	e.str(&s.Postgres.DSN, "CONTENTHUB_POSTGRES_DSN", "DATABASE_URL")
	e.integer(&s.Postgres.MaxConns, "CONTENTHUB_POSTGRES_MAX_CONNS")
	e.integer(&s.Postgres.MinConns, "CONTENTHUB_POSTGRES_MIN_CONNS")
	e.duration(&s.Postgres.MaxConnLifetime, "CONTENTHUB_POSTGRES_MAX_CONN_LIFETIME")
	e.duration(&s.Postgres.MaxConnIdle, "CONTENTHUB_POSTGRES_MAX_CONN_IDLE")
	e.duration(&s.Postgres.HealthInterval, "CONTENTHUB_POSTGRES_HEALTH_INTERVAL")
	e.duration(&s.Postgres.AcquireTimeout, "CONTENTHUB_POSTGRES_ACQUIRE_TIMEOUT")
	e.duration(&s.Postgres.QueryTimeout, "CONTENTHUB_POSTGRES_QUERY_TIMEOUT")
	e.str(&s.Postgres.AppName, "CONTENTHUB_POSTGRES_APP_NAME")
	e.boolean(&s.Postgres.Migrate, "CONTENTHUB_POSTGRES_MIGRATE")
	e.str(&s.Object.Endpoint, "CONTENTHUB_OBJECT_ENDPOINT")
	e.str(&s.Object.Region, "CONTENTHUB_OBJECT_REGION")
	e.str(&s.Object.AccessKey, "CONTENTHUB_OBJECT_ACCESS_KEY")
	e.raw(&s.Object.SecretKey, "CONTENTHUB_OBJECT_SECRET_KEY")
	e.str(&s.Object.PublicEndpoint, "CONTENTHUB_OBJECT_PUBLIC_ENDPOINT")
	e.boolean(&s.Object.UsePathStyle, "CONTENTHUB_OBJECT_PATH_STYLE")
	e.str(&s.Object.ArticleImagesBucket, "CONTENTHUB_OBJECT_ARTICLE_IMAGES_BUCKET")
	e.str(&s.Object.VideoThumbnailsBucket, "CONTENTHUB_OBJECT_VIDEO_THUMBNAILS_BUCKET")
	e.duration(&s.Object.RequestTimeout, "CONTENTHUB_OBJECT_REQUEST_TIMEOUT")

	r := &c.RateLimit
	e.str(&r.RedisAddr, "CONTENTHUB_RATE_REDIS_ADDR")
	e.str(&r.RedisUsername, "CONTENTHUB_RATE_REDIS_USERNAME")
	e.raw(&r.RedisPassword, "CONTENTHUB_RATE_REDIS_PASSWORD")
	e.integer(&r.RedisDB, "CONTENTHUB_RATE_REDIS_DB")
	e.duration(&r.RedisTimeout, "CONTENTHUB_RATE_REDIS_TIMEOUT")
	e.boolean(&r.RedisTLS, "CONTENTHUB_RATE_REDIS_TLS")
	e.boolean(&r.TrustForwardedHeaders, "CONTENTHUB_RATE_TRUST_FORWARDED_HEADERS")
	e.list(&r.TrustedProxies, "CONTENTHUB_RATE_TRUSTED_PROXIES")
}

// first returns the trimmed value of the first key that is set and non-blank.
func (e *envReader) first(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := e.lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func (e *envReader) str(dst *string, keys ...string) {
	if value, ok := e.first(keys...); ok {
		*dst = value
	}
}

// raw keeps surrounding whitespace; secrets are taken verbatim.
func (e *envReader) raw(dst *string, keys ...string) {
	for _, key := range keys {
		if value, ok := e.lookup(key); ok && value != "" {
			*dst = value
			return
		}
	}
}

func (e *envReader) list(dst *[]string, keys ...string) {
	if value, ok := e.first(keys...); ok {
		*dst = splitAndTrim(value)
	}
}

func (e *envReader) integer(dst *int, key string) {
	value, ok := e.first(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return
	}
	*dst = parsed
}

func (e *envReader) duration(dst *time.Duration, key string) {
	value, ok := e.first(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return
	}
	*dst = parsed
}

func (e *envReader) boolean(dst *bool, key string) {
	value, ok := e.first(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return
	}
	*dst = parsed
}

func splitAndTrim(raw string) []string {
	return cleanList(strings.Split(raw, ","))
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimRight(strings.TrimSpace(value), "/"); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
