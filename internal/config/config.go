package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv         string
	Port           string
	StoreDriver    string
	DatabaseURL    string
	MigrateOnStart bool
	RedisURL       string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	CORSAllowedOrigins []string

	SessionCookieName   string
	SessionCookieMaxAge time.Duration
	CookieDomain        string
	CookieSecure        bool
	CookieSameSite      http.SameSite

	GuestCartTTL       time.Duration
	GuestSweepInterval time.Duration

	LockEnabled      bool
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitStrategy string

	IdempotencyTTL time.Duration

	HTTPBodyLimitBytes     int64
	SecurityHeadersEnabled bool

	EventsRedisChannel   string
	EventsWebhookURL     string
	EventsWebhookSecret  string
	EventsWebhookTimeout time.Duration

	WorkerConcurrency int
	ShutdownTimeout   time.Duration

	Obs Obs
}

// Obs configures logging, metrics, tracing and profiling.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	HTTPBuckets      string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
}

// Load reads configuration from the process environment, after merging an
// optional .env file into it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(nil)
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests layers overrides on top of the process environment without
// mutating it. An empty override value masks the variable.
func LoadForTests(overrides map[string]string) (*Config, error) {
	return load(overrides)
}

func load(overrides map[string]string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	e := source{k}
	cfg := &Config{
		AppEnv:         e.str("APP_ENV", "development"),
		Port:           e.str("PORT", "8080"),
		StoreDriver:    strings.ToLower(e.str("STORE_DRIVER", StoreMemory)),
		DatabaseURL:    e.str("DATABASE_URL", ""),
		MigrateOnStart: e.flag("DB_MIGRATE_ON_START", true),
		RedisURL:       e.str("REDIS_URL", ""),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   e.str("JWT_ISSUER", ""),
		JWTAudience: e.str("JWT_AUDIENCE", ""),

		CORSAllowedOrigins: e.list("CORS_ALLOWED_ORIGINS"),

		SessionCookieName:   e.str("SESSION_COOKIE_NAME", "cartino.sessionId"),
		SessionCookieMaxAge: e.dur("SESSION_COOKIE_MAX_AGE", 7*24*time.Hour),
		CookieDomain:        e.str("COOKIE_DOMAIN", ""),
		CookieSecure:        e.flag("COOKIE_SECURE", false),
		CookieSameSite:      sameSite(e.str("COOKIE_SAMESITE", "lax")),

		GuestCartTTL:       e.dur("GUEST_CART_TTL", 7*24*time.Hour),
		GuestSweepInterval: e.dur("GUEST_SWEEP_INTERVAL", time.Hour),

		LockEnabled:      e.flag("LOCK_ENABLED", true),
		LockTTL:          e.dur("LOCK_TTL", 10*time.Second),
		LockRetryBackoff: e.dur("LOCK_RETRY_BACKOFF", 25*time.Millisecond),

		RateLimitWindow:   e.dur("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:      e.num("RATE_LIMIT_MAX", 120),
		RateLimitStrategy: strings.ToLower(e.str("RATE_LIMIT_STRATEGY", "sliding")),

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		HTTPBodyLimitBytes:     int64(e.num("HTTP_BODY_LIMIT_BYTES", 1<<20)),
		SecurityHeadersEnabled: e.flag("SECURITY_HEADERS_ENABLED", true),

		EventsRedisChannel:   e.str("EVENTS_REDIS_CHANNEL", "cartino:events"),
		EventsWebhookURL:     e.str("EVENTS_WEBHOOK_URL", ""),
		EventsWebhookSecret:  k.String("EVENTS_WEBHOOK_SECRET"),
		EventsWebhookTimeout: e.dur("EVENTS_WEBHOOK_TIMEOUT", 3*time.Second),

		WorkerConcurrency: e.num("WORKER_CONCURRENCY", 2),
		ShutdownTimeout:   time.Duration(e.num("HTTP_SHUTDOWN_TIMEOUT_MS", 15000)) * time.Millisecond,

		Obs: Obs{
			LogFormat:        e.str("OBS_LOG_FORMAT", "json"),
			LogLevel:         e.str("OBS_LOG_LEVEL", "info"),
			MetricsEnabled:   e.flag("OBS_ENABLE_PROMETHEUS", true),
			MetricsNamespace: e.str("OBS_METRICS_NAMESPACE", "cartino"),
			HTTPBuckets:      e.str("OBS_HTTP_BUCKETS", ""),
			TracingEnabled:   e.flag("OBS_ENABLE_TRACING", true),
			TracingExporter:  e.str("OBS_TRACING_EXPORTER", "otlp"),
			OTLPEndpoint:     e.str("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio:    e.ratio("OBS_TRACING_SAMPLING_RATIO", 1),
			PprofEnabled:     e.flag("OBS_ENABLE_PPROF", false),
			PprofUser:        e.str("OBS_PPROF_USER", ""),
			PprofPass:        k.String("OBS_PPROF_PASS"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RateLimitStrategy != "sliding" && c.RateLimitStrategy != "fixed" {
		return fmt.Errorf("unknown RATE_LIMIT_STRATEGY %q", c.RateLimitStrategy)
	}
	if c.EventsWebhookURL != "" && c.EventsWebhookSecret == "" {
		return errors.New("EVENTS_WEBHOOK_SECRET is required when EVENTS_WEBHOOK_URL is set")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	switch {
	case port == "":
		return ":8080"
	case strings.HasPrefix(port, ":"):
		return port
	default:
		return ":" + port
	}
}

// Production reports whether APP_ENV names a production deployment.
func (c *Config) Production() bool {
	switch strings.ToLower(c.AppEnv) {
	case "production", "prod":
		return true
	}
	return false
}

// source reads typed values out of koanf. Blank or malformed values fall
// back to the supplied default.
type source struct{ k *koanf.Koanf }

func (s source) str(key, fallback string) string {
	if v := strings.TrimSpace(s.k.String(key)); v != "" {
		return v
	}
	return fallback
}

func (s source) dur(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s.str(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func (s source) num(key string, fallback int) int {
	n, err := strconv.Atoi(s.str(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func (s source) ratio(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s.str(key, ""), 64)
	if err != nil || f < 0 || f > 1 {
		return fallback
	}
	return f
}

func (s source) flag(key string, fallback bool) bool {
	switch strings.ToLower(s.str(key, "")) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func (s source) list(key string) []string {
	var out []string
	for _, part := range strings.Split(s.k.String(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sameSite(value string) http.SameSite {
	switch strings.ToLower(value) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
