package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fitpulse/session-service/internal/config"
	"github.com/fitpulse/session-service/internal/http/handler"
	"github.com/fitpulse/session-service/internal/http/middleware"
	"github.com/fitpulse/session-service/internal/http/router"
	"github.com/fitpulse/session-service/internal/identity"
	"github.com/fitpulse/session-service/internal/observability"
	"github.com/fitpulse/session-service/internal/repository"
	"github.com/fitpulse/session-service/internal/security"
	"github.com/fitpulse/session-service/internal/service"
)

// App owns every long-lived dependency. Construction happens here,
// explicitly, once per process; nothing is initialized at import time.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Sessions      *service.SessionService
	Store         repository.SessionRepository

	cron        *cron.Cron
	redisClient *redis.Client
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := observability.NewLogger(cfg)
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	logger = runtime.Logger
	slog.SetDefault(logger)

	cipher, err := security.NewTokenCipher(cfg.SessionEncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}

	var store repository.SessionRepository
	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, config.ErrMissingDatabaseURL
		}
		logger.Warn("no DATABASE_URL configured, using in-memory session store (development only)")
		store = repository.NewMemorySessionRepository()
	} else {
		db, err := repository.OpenDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = repository.NewSessionRepository(db)
	}

	provider := identity.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.ProviderTimeout)
	sessions := service.NewSessionService(store, cipher, provider, cfg.SessionRetentionDays)

	gate := security.NewAdminGate(cfg.AdminAPIToken, cfg.AdminSigningSecret)
	if !gate.Enabled() {
		logger.Warn("no admin credentials configured, admin operations are disabled")
	}

	deps := router.Dependencies{
		SessionHandler:      handler.NewSessionHandler(sessions, gate, cfg.IsProduction()),
		AdminGate:           gate,
		Store:               store,
		SessionRateLimitRPM: cfg.SessionRateLimitRPM,
		AdminRateLimitRPM:   cfg.AdminRateLimitRPM,
		EnableOTelHTTP:      cfg.OTELTracesEnabled,
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.SessionLimiter = middleware.NewRateLimiter(
			middleware.NewRedisFixedWindowLimiter(redisClient, "sessions", cfg.SessionRateLimitRPM, time.Minute),
			"session", time.Minute,
		).Middleware()
		deps.AdminLimiter = middleware.NewRateLimiter(
			middleware.NewRedisFixedWindowLimiter(redisClient, "admin", cfg.AdminRateLimitRPM, time.Minute),
			"admin", time.Minute,
		).Middleware()
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(deps),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	a := &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		Sessions:      sessions,
		Store:         store,
		redisClient:   redisClient,
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(cfg.CleanupSchedule, a.runRetentionSweep); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}

	return a, nil
}

// Run serves HTTP and the scheduled retention sweep until ctx is
// cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()
	a.Logger.Info("session service listening", "addr", a.Server.Addr, "environment", a.Config.Environment)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the HTTP server, the cron sweeper, the redis client
// and the observability pipeline, in that order.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	drainCtx, cancel := context.WithTimeout(ctx, a.Config.ShutdownHTTPDrainTimeout)
	defer cancel()
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, err)
	}

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("cron stop: %w", ctx.Err()))
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	obsCtx, cancelObs := context.WithTimeout(context.Background(), a.Config.ShutdownObservabilityTimeout)
	defer cancelObs()
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) runRetentionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	deleted, err := a.Sessions.Cleanup(ctx, 0)
	if err != nil {
		a.Logger.Error("retention sweep failed", "error", err.Error())
		return
	}
	a.Logger.Info("retention sweep complete", "deleted", deleted, "retention_days", a.Config.SessionRetentionDays)
}
