// Package app assembles the cart engine and its infrastructure from config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cartino/internal/cart"
	"github.com/noah-isme/cartino/internal/config"
	"github.com/noah-isme/cartino/internal/events"
	"github.com/noah-isme/cartino/internal/health"
	"github.com/noah-isme/cartino/internal/lock"
	"github.com/noah-isme/cartino/internal/obs"
	"github.com/noah-isme/cartino/internal/ratelimit"
	"github.com/noah-isme/cartino/internal/resilience"
	"github.com/noah-isme/cartino/internal/store/postgres"
	"github.com/noah-isme/cartino/internal/store/redisstore"
)

// Dependencies holds the shared infrastructure for the API and the worker.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Store  cart.Store
	Locker cart.Locker
	Events *events.Bus
	Carts  *cart.Service

	closers []func()
}

// Options tweaks Build for callers that already own some infrastructure.
type Options struct {
	// RedisMetrics enables redisotel metric instrumentation.
	RedisMetrics bool
	// Migrate overrides cfg.MigrateOnStart.
	Migrate *bool
}

// Build connects the configured store driver, Redis when available, the lock
// and event bus, and finally the cart service.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}

	if cfg.RedisURL != "" {
		rdb, err := connectRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
		if err != nil {
			return nil, err
		}
		d.Redis = rdb
		d.closers = append(d.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		})
	}

	var pgStore *postgres.Store
	switch cfg.StoreDriver {
	case config.StorePostgres:
		migrateOnStart := cfg.MigrateOnStart
		if opts.Migrate != nil {
			migrateOnStart = *opts.Migrate
		}
		if migrateOnStart {
			if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
				d.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := connectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
		d.closers = append(d.closers, pool.Close)
		pgStore = postgres.New(pool)
		d.Store = pgStore
	case config.StoreRedis:
		if d.Redis == nil {
			d.Close()
			return nil, fmt.Errorf("redis store requires REDIS_URL")
		}
		d.Store = &redisstore.Store{R: d.Redis, GuestTTL: cfg.GuestCartTTL}
	default:
		d.Store = cart.NewMemoryStore()
	}

	if cfg.LockEnabled {
		if d.Redis != nil {
			d.Locker = lock.Locker{R: d.Redis, RetryBackoff: cfg.LockRetryBackoff}
		} else {
			d.Locker = &lock.Local{}
		}
	}

	d.Events = NewEventBus(cfg, d.Redis, pgStore, logger)

	svc, err := cart.NewService(cart.ServiceConfig{
		Store:   d.Store,
		Locker:  d.Locker,
		LockTTL: cfg.LockTTL,
		Events:  d.Events,
		Logger:  logger.With().Str("component", "cart").Logger(),
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Carts = svc
	return d, nil
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Probes lists readiness checks for the dependencies actually in use.
func (d *Dependencies) Probes() map[string]health.Probe {
	probes := map[string]health.Probe{}
	if d.DB != nil {
		probes["postgres"] = func(ctx context.Context) error { return d.DB.Ping(ctx) }
	}
	if d.Redis != nil {
		probes["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	return probes
}

// NewEventBus fans cart events out to the log, metrics, Redis pub/sub and the
// optional webhook subscriber. Events are persisted when a postgres store is
// in use.
func NewEventBus(cfg *config.Config, rdb *redis.Client, store *postgres.Store, logger zerolog.Logger) *events.Bus {
	bus := &events.Bus{
		Notifiers: []events.Notifier{
			events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()},
			events.MetricsNotifier{},
		},
	}
	if store != nil {
		bus.Store = store
	}
	if rdb != nil {
		bus.Notifiers = append(bus.Notifiers, events.RedisPublisher{R: rdb, Channel: cfg.EventsRedisChannel})
	}
	if cfg.EventsWebhookURL != "" {
		breakerLogger := logger.With().Str("component", "events").Logger()
		bus.Notifiers = append(bus.Notifiers, events.WebhookNotifier{
			URL:    cfg.EventsWebhookURL,
			Secret: cfg.EventsWebhookSecret,
			Client: resilience.Client{
				HTTP: events.WebhookTransport(cfg.EventsWebhookTimeout),
				Breaker: resilience.NewBreaker(resilience.BreakerConfig{
					Target:  "events-webhook",
					OpenFor: 30 * time.Second,
					Logger:  &breakerLogger,
				}),
				Retry:   resilience.Retry{Attempts: 2, Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2},
				Timeout: cfg.EventsWebhookTimeout,
			},
		})
	}
	return bus
}

// NewLimiter picks the rate limiter backend: Redis sliding window or fixed
// window when Redis is configured, otherwise an in-process fixed window.
func NewLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Allower, error) {
	if rdb == nil {
		return ratelimit.NewMemory("cartino"), nil
	}
	if cfg.RateLimitStrategy == "fixed" {
		return ratelimit.NewRedis(rdb, "cartino:rl")
	}
	return ratelimit.Limiter{Client: rdb, Prefix: "cartino:rl:"}, nil
}

func connectRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func connectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "cartino"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
