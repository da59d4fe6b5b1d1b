package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"kufarwatch/internal/config"
	"kufarwatch/internal/extract"
	"kufarwatch/internal/fetch"
	"kufarwatch/internal/ingest"
	"kufarwatch/internal/metrics"
	"kufarwatch/internal/notify"
	"kufarwatch/internal/proxy"
	"kufarwatch/internal/scanner"
	"kufarwatch/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()
	cfg.SetOverrides(store)

	recorder := metrics.NewRecorder()

	var source fetch.ProxySource
	jobs := cron.New()
	if enabled, list := cfg.ProxiesFor(ctx); enabled && len(list) > 0 {
		pool := proxy.NewPool(list, logger)
		pool.ValidateAll(ctx)
		source = pool

		_, err := jobs.AddFunc("@every 10m", func() { pool.RefreshFailed(ctx) })
		if err != nil {
			logger.Error("failed to schedule proxy refresh", "error", err)
			os.Exit(1)
		}
	}
	jobs.Start()
	defer jobs.Stop()

	client := fetch.New(source, recorder, logger)
	client.SetDelayBounds(cfg.DelayBoundsFor(ctx))

	telegram, err := notify.NewTelegram(cfg.TelegramBotToken, logger)
	if err != nil {
		logger.Error("failed to init telegram", "error", err)
		os.Exit(1)
	}

	sc := scanner.New(
		store,
		client,
		extract.NewEngine(logger),
		ingest.NewGate(store, logger),
		notify.NewDispatcher(store, telegram, logger),
		cfg,
		recorder,
		logger,
	)

	logger.Info("watcher started")
	err = sc.Run(ctx)

	snap := recorder.Snapshot()
	logger.Info("watcher stopped",
		"uptime", snap.Uptime.Round(time.Second),
		"api_requests", snap.TotalAPIRequests,
		"items_found", snap.TotalItemsFound)

	if err != nil && ctx.Err() == nil {
		logger.Error("watcher exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
