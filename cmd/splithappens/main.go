package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"splithappens/internal/api"
	"splithappens/internal/backend"
	"splithappens/internal/cache"
	"splithappens/internal/cli"
	"splithappens/internal/config"
	apphttp "splithappens/internal/http"
	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/services"
	"splithappens/internal/session"
)

const (
	cacheSweepInterval = time.Minute
	purgeInterval      = 15 * time.Minute
	shutdownTimeout    = 30 * time.Second
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp, (*config.Config).Validate)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger.WithComponent(log.ComponentStorage))

	ctx := context.Background()
	storeResult, err := factory.CreateStore(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize workspace store", log.FieldError, err, "backend", bcfg.Store)
		os.Exit(1)
	}

	bus, err := factory.CreateBus(bcfg)
	if err != nil {
		logger.Error("Failed to initialize event bus", log.FieldError, err)
		os.Exit(1)
	}
	// A nil *amqp.Client in the interface would not read as nil.
	var publisher services.Publisher
	if bus != nil {
		publisher = bus
	}

	m := metrics.New()
	client := api.New(cfg.APIBaseURL, api.Options{
		Timeout: cfg.APITimeout,
		Logger:  logger.WithComponent(log.ComponentAPI),
		Observe: m.ObserveBackend,
	})
	frontend := services.NewFrontend(client, services.Options{
		Logger:      logger.WithComponent(log.ComponentFrontend),
		Metrics:     m,
		Publisher:   publisher,
		SnapshotTTL: cfg.OverviewCacheTTL,
	})
	sessions := session.NewManager(session.ManagerConfig{
		Secret:       cfg.SessionSecret,
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.SessionCookieSecure,
		IdleTTL:      cfg.SessionIdleTTL,
		MaxAge:       cfg.SessionMaxAge,
		MaxLive:      cfg.MaxWorkspaces,
	}, storeResult.Store, logger.WithComponent(log.ComponentSession), m)

	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	for _, c := range frontend.Caches() {
		caches.Register(c)
	}
	caches.Register(sessions.Cache())
	caches.StartCleanup(cacheSweepInterval)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		WriteTimeout:       cfg.APITimeout + 30*time.Second,
	}, apphttp.Deps{
		Sessions: sessions,
		Frontend: frontend,
		Store:    storeResult.Store,
		Metrics:  m,
		Logger:   logger,
	})

	purgeCtx, stopPurge := context.WithCancel(ctx)
	go purgeWorkspaces(purgeCtx, sessions, m, logger.WithComponent(log.ComponentSession))

	runCtx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		stopPurge()
		caches.Stop()
		if bus != nil {
			if err := bus.Close(); err != nil {
				logger.Warn("Failed to close event bus", log.FieldError, err)
			}
		}
		if err := storeResult.Cleanup(); err != nil {
			logger.Warn("Failed to close workspace store", log.FieldError, err)
		}
	})

	logger.Info("Starting splithappens server",
		"port", cfg.Port,
		"api", cfg.APIBaseURL,
		"store", bcfg.Store,
		"events", bus != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(runCtx, done)
	logger.Info("Server stopped gracefully")
}

// purgeWorkspaces drops persisted workspaces whose idle window has passed
// and keeps the live gauge current.
func purgeWorkspaces(ctx context.Context, sessions *session.Manager, m *metrics.Metrics, logger *log.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.PurgeExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "Workspace purge failed", log.FieldError, err)
			} else if n > 0 {
				logger.InfoContext(ctx, "Purged expired workspaces", "count", n)
			}
			m.SetWorkspaces(sessions.Live())
		}
	}
}
