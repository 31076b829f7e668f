package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/cartino/internal/app"
	"github.com/noah-isme/cartino/internal/auth"
	"github.com/noah-isme/cartino/internal/common"
	"github.com/noah-isme/cartino/internal/config"
	"github.com/noah-isme/cartino/internal/health"
	"github.com/noah-isme/cartino/internal/obs"
	"github.com/noah-isme/cartino/internal/resilience"
	"github.com/noah-isme/cartino/internal/retention"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	oc := cfg.Obs
	logger := obs.NewLogger(oc.LogFormat, oc.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(oc.MetricsNamespace, nil)
	resilience.MustRegister(nil)

	tracingEnabled := oc.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "cartino-api",
			Endpoint:      oc.OTLPEndpoint,
			Exporter:      oc.TracingExporter,
			SamplingRatio: oc.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger, app.Options{RedisMetrics: oc.MetricsEnabled})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}

	limiter, err := app.NewLimiter(cfg, deps.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	rc := app.RouterConfig{
		Config:    cfg,
		Logger:    logger,
		Carts:     deps.Carts,
		Verifier:  verifier,
		Limiter:   limiter,
		Idem:      common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		Probes:    deps.Probes(),
		Tracing:   tracingEnabled,
		Pprof:     oc.PprofEnabled,
		PprofUser: oc.PprofUser,
		PprofPass: oc.PprofPass,
	}
	if oc.MetricsEnabled {
		rc.HTTPMetrics = obs.NewHTTPMetrics(oc.MetricsNamespace, obs.ParseBucketsCSV(oc.HTTPBuckets), nil)
		rc.MetricsHandler = promhttp.Handler()
	}

	// Without Redis there is no worker; sweep in-process instead.
	if deps.Redis == nil {
		go sweepGuests(ctx, retention.Handler{
			Carts:  deps.Carts,
			TTL:    cfg.GuestCartTTL,
			Logger: logger.With().Str("component", "retention").Logger(),
		}, cfg.GuestSweepInterval)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(rc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	health.SetReady(true)
	logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func sweepGuests(ctx context.Context, h retention.Handler, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	task := asynq.NewTask(retention.TaskPurgeGuests, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = h.ProcessTask(ctx, task)
		}
	}
}
