package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cartino/internal/app"
	"github.com/noah-isme/cartino/internal/config"
	"github.com/noah-isme/cartino/internal/obs"
	"github.com/noah-isme/cartino/internal/retention"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}
	if cfg.StoreDriver == config.StoreMemory {
		logger.Fatal().Msg("the worker cannot sweep an in-process memory store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrate := false
	deps, err := app.Build(ctx, cfg, logger, app.Options{Migrate: &migrate})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	redisOpt := mustRedisOpt(cfg.RedisURL, logger)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{retention.Queue: 1},
		Logger:      obs.AsynqLogger{Logger: logger},
	})
	mux := asynq.NewServeMux()
	retention.Register(mux, retention.Handler{
		Carts:  deps.Carts,
		TTL:    cfg.GuestCartTTL,
		Logger: logger.With().Str("task", retention.TaskPurgeGuests).Logger(),
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger: obs.AsynqLogger{Logger: logger},
	})
	entryID, err := retention.Schedule(scheduler, cfg.GuestSweepInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule guest sweep")
	}
	logger.Info().Str("entry", entryID).Dur("every", cfg.GuestSweepInterval).Msg("guest sweep scheduled")

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	defer scheduler.Shutdown()

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustRedisOpt(url string, logger zerolog.Logger) asynq.RedisClientOpt {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
}
