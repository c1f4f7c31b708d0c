package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"splithappens/internal/backend"
	"splithappens/internal/cli"
	"splithappens/internal/config"
	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/storage"
	"splithappens/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker, (*config.Config).ValidateWorker)
	logger.Info("Starting splithappens-worker")

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger.WithComponent(log.ComponentStorage))

	storeResult, err := factory.CreateStore(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize export log", log.FieldError, err, "backend", bcfg.Store)
		os.Exit(1)
	}
	defer storeResult.Cleanup()

	ledger, err := factory.CreateLedger(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize ledger", log.FieldError, err, "backend", bcfg.Ledger)
		os.Exit(1)
	}

	bus, err := factory.CreateBus(bcfg)
	if err != nil || bus == nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer bus.Close()

	m := metrics.New()
	exporter := worker.NewExportWorker(storeResult.Store, ledger, logger, m)
	health := &http.Server{
		Addr:              ":" + cfg.WorkerHealthPort,
		Handler:           healthMux(storeResult.Store, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := health.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Health server shutdown error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Consuming ledger events", "queue", cfg.AMQPQueue)
		if err := bus.Consume(gctx, exporter.HandleEvent); err != nil {
			return err
		}
		return errors.New("event consumer stopped")
	})
	g.Go(func() error {
		logger.Info("Starting health server", "port", cfg.WorkerHealthPort)
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

func healthMux(store storage.Store, m *metrics.Metrics) http.Handler {
	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "store": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})
	mux.Handle("GET /metrics", m.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
