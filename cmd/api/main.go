package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/api"
	"github.com/ngxpulse/pulse-api/internal/api/handler"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
	"github.com/ngxpulse/pulse-api/internal/core/service"
	"github.com/ngxpulse/pulse-api/internal/infrastructure/config"
	redisstore "github.com/ngxpulse/pulse-api/internal/infrastructure/db/redis"
	"github.com/ngxpulse/pulse-api/internal/infrastructure/jwks"
	"github.com/ngxpulse/pulse-api/internal/infrastructure/observability"
	"github.com/ngxpulse/pulse-api/internal/infrastructure/ratelimit"
	"github.com/ngxpulse/pulse-api/pkg/logger"
)

const (
	serviceName     = "pulse-api"
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logOpts := logger.Options{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: serviceName,
	}
	if cfg.Log.File != "" {
		logOpts.File = &logger.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	log := logger.Init(logOpts)

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:  serviceName,
		Endpoint:     cfg.Tracing.Endpoint,
		Insecure:     cfg.Tracing.Insecure,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown")
		}
	}()

	clock := ports.SystemClock{}
	readiness := map[string]handler.Pinger{}

	// --- Rate limit store ---
	var store ports.RateLimitStore
	switch cfg.RateLimit.Backend {
	case "redis":
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		rs := redisstore.NewRateLimitStore(client)
		store = rs
		readiness["redis"] = rs
		log.Info().Str("addr", cfg.Redis.Addr).Msg("rate limit store: redis")
	default:
		store = ratelimit.NewMemoryStore()
		log.Info().Msg("rate limit store: memory")
	}

	// --- Authentication ---
	sources, err := cfg.TrustSources(ctx, jwks.Discover)
	if err != nil {
		return err
	}
	secret, err := cfg.SecretSource()
	if err != nil {
		return err
	}

	authSvc := service.NewAuthService(service.AuthOptions{
		DemoMode: cfg.DemoMode(),
		Sources:  sources,
		Secret:   secret,
		Keys:     jwks.NewCache(cfg.Auth.JWKSFetchTimeout, log),
		Clock:    clock,
	}, log)

	switch {
	case authSvc.DemoMode():
		log.Warn().Msg("demo mode enabled: every request runs as the demo user")
	case !authSvc.Enabled():
		log.Warn().Msg("no token trust source configured: authenticated routes will fail")
	default:
		names := make([]string, 0, len(sources))
		for _, s := range sources {
			names = append(names, s.Name)
		}
		log.Info().Strs("jwks_sources", names).Bool("secret", secret != nil).Msg("authentication configured")
	}

	limiter := service.NewRateLimiterService(domain.DefaultRateLimitRules(), store, clock, cfg.RateLimit.BlockDuration, log)

	e := api.NewRouter(api.Dependencies{
		Log:        log,
		Auth:       authSvc,
		Limiter:    limiter,
		ErrorStats: service.NewErrorStatsService(),
		Clock:      clock,
		Readiness:  readiness,
	}, api.Options{
		ServiceName:    serviceName,
		Debug:          cfg.Debug && !cfg.Production(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.Payload.MaxBodyBytes,
		TrustProxy:     cfg.TrustProxy,
		OpsRoles:       cfg.Ops.Roles,
		OpsKeyHash:     cfg.Ops.KeyHash,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
