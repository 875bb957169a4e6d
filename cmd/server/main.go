// Command server boots the workflow & automation engine's HTTP API.
// Grounded on the teacher's cmd/server bootstrap ordering (load config,
// build stores, wire the event bus and its subscribers, then the router),
// adapted to this core's dependency graph: inventory -> sales, orders ->
// automation -> trigger (the trigger layer is set as orders' Trigger after
// construction, since orders must exist first to build automation).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ops-platform/automation-core/audit"
	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/automation"
	"github.com/ops-platform/automation-core/config"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/httpapi"
	"github.com/ops-platform/automation-core/inventory"
	"github.com/ops-platform/automation-core/metrics"
	"github.com/ops-platform/automation-core/notification"
	"github.com/ops-platform/automation-core/orders"
	"github.com/ops-platform/automation-core/sales"
	"github.com/ops-platform/automation-core/store"
	"github.com/ops-platform/automation-core/trigger"
	"github.com/ops-platform/automation-core/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := loadConfig(logger)

	st, closeStore := buildStore(context.Background(), cfg, logger)
	defer closeStore()

	bus := eventbus.New(logger)

	live := config.NewLiveConfig(cfg)
	startConfigWatcher(cfg, live, logger)

	metricsRecorder := metrics.New()

	emitter := webhook.New(webhook.Config{
		Environment: cfg.Webhook.Environment,
		Source:      cfg.Webhook.Source,
	}, logger)
	emitter.SetMetrics(metricsRecorder)
	webhook.NewSubscriber(emitter, live).Attach(bus)

	cache := inventory.NewReadCache(nil, "inv", cfg.InventoryCacheTTL)
	invService := inventory.NewService(st, bus, cache, logger)
	salesService := sales.NewService(st, bus, invService, logger)

	ordersEngine := orders.NewEngine(st, bus, logger)
	autoEngine := automation.NewEngine(st, bus, ordersEngine, logger)
	autoEngine.SetAuditSink(audit.NewLogger(nil))
	autoEngine.SetMetrics(metricsRecorder)
	triggerLayer := trigger.New(autoEngine, bus, logger)
	ordersEngine.SetTrigger(triggerLayer)

	notification.New(st, bus, nil, logger)

	verifier := authctx.NewVerifier([]byte(cfg.JWTSecret))
	router := httpapi.NewRouter(httpapi.Services{
		Store:      st,
		Orders:     ordersEngine,
		Automation: autoEngine,
		Sales:      salesService,
		Inventory:  invService,
		Verifier:   verifier,
		Metrics:    metricsRecorder,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(srv, logger)
}

func loadConfig(logger *slog.Logger) *config.Config {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		logger.Info("CONFIG_FILE not set, using defaults")
		return config.Default()
	}
	cfg, err := config.NewFileSource(path).Load(context.Background())
	if err != nil {
		logger.Error("failed to load config file, falling back to defaults", "path", path, "err", err)
		return config.Default()
	}
	return cfg
}

func startConfigWatcher(cfg *config.Config, live *config.LiveConfig, logger *slog.Logger) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return
	}
	reloader := config.NewReloader(live, logger)
	w := config.NewConfigWatcher(config.NewFileSource(path), reloader.HandleChange, config.WithWatchLogger(logger))
	if err := w.Start(); err != nil {
		logger.Warn("config hot-reload disabled", "err", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func()) {
	if cfg.PostgresURL == "" {
		logger.Info("no postgresURL configured, using in-memory store")
		return store.NewMemory(), func() {}
	}
	pg, err := store.NewPostgres(ctx, store.PGConfig{URL: cfg.PostgresURL})
	if err != nil {
		logger.Error("failed to connect to postgres, falling back to in-memory store", "err", err)
		return store.NewMemory(), func() {}
	}
	if err := store.NewMigrator(pg.Pool()).Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}
	return pg, pg.Close
}

func waitForShutdown(srv *http.Server, logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
