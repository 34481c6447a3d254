// Command server starts the social inbox HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/social-inbox/internal/adapter/httpserver"
	"github.com/fairyhunter13/social-inbox/internal/adapter/observability"
	"github.com/fairyhunter13/social-inbox/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/social-inbox/internal/adapter/social"
	"github.com/fairyhunter13/social-inbox/internal/app"
	"github.com/fairyhunter13/social-inbox/internal/config"
	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/internal/resilience"
	"github.com/fairyhunter13/social-inbox/internal/usecase"
	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := connectDB(ctx, cfg.DatabaseURL())
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(cfg.DatabaseURL()); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	store := postgres.NewStore(pool)
	userRepo := postgres.NewUserRepo(pool)
	breakerRepo := postgres.NewBreakerRepo(pool)

	if cfg.IsDev() {
		seedDevUser(ctx, userRepo)
	}

	clock := clockx.System{}
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	}, breakerRepo, clock, func(name string, state domain.BreakerState, _ domain.BreakerSnapshot) {
		observability.RecordCircuitState(name, state)
	})
	retryCfg := resilience.RetryConfig{
		MaxRetries:   cfg.RetryMaxRetries,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Factor:       cfg.RetryMultiplier,
	}

	client := social.NewClient(cfg.SocialAPIURL, cfg.SocialAPIKey, cfg.SocialRequestTimeout)
	gateway := social.NewGateway(client, breakers, breakerRepo, retryCfg, clock, cfg.Platforms(), cfg.SocialHistoryLastDays)

	engine := usecase.NewEngine(store, gateway, clock, usecase.EngineConfig{
		ListMentionsWait: cfg.ListMentionsWait,
		ReplyInterval:    cfg.ReplyInterval,
		FetchInterval:    cfg.FetchInterval,
		FanOutLimit:      cfg.FanOutLimit,
	})

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	go engine.RunRecoveryLoop(loopCtx, cfg.ReplyInterval)

	auth := httpserver.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	srv := httpserver.NewServer(engine, gateway, userRepo, auth)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	stopLoops()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// connectDB pings the database with exponential backoff so the server rides
// out a slow-starting database instead of crash-looping.
func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	err := backoff.Retry(func() error {
		p, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}, backoff.WithContext(bo, ctx))
	return pool, err
}

// seedDevUser makes sure a local operator account exists in dev mode.
func seedDevUser(ctx context.Context, users *postgres.UserRepo) {
	const email = "dev@example.com"
	if _, err := users.GetByEmail(ctx, email); err == nil {
		return
	}
	if _, err := users.Create(ctx, domain.User{Email: email}); err != nil {
		slog.Warn("dev user seed failed", slog.Any("error", err))
		return
	}
	slog.Info("dev user seeded", slog.String("email", email))
}
