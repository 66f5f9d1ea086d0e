package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mattersync/internal/config"
	"mattersync/internal/docstore"
	"mattersync/internal/feed"
	"mattersync/internal/metrics"
	"mattersync/internal/scheduler"
	"mattersync/internal/server"
	"mattersync/internal/settings"
	"mattersync/internal/storage"
	syncengine "mattersync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	st := settings.NewSQLite(db)
	docs := docstore.NewSQLite(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	client := feed.New(feed.DefaultHTTPClient(), st, feed.Options{
		FeedURL:    cfg.FeedURL,
		RefreshURL: cfg.RefreshURL,
		RateLimit:  cfg.PageRateLimit,
		Metrics:    collector,
		Logger:     log,
	})

	engine := syncengine.NewEngine(client, st, docs, syncengine.EngineOptions{
		MaxWrites: cfg.MaxWrites,
		Metrics:   collector,
		Logger:    log,
	})

	sched := scheduler.New(engine, st, scheduler.Options{
		Tick:               cfg.TickInterval,
		Cooldown:           cfg.Cooldown,
		StaleAfter:         cfg.StaleAfter,
		JitterRangeMinutes: cfg.JitterRangeMinutes,
		Metrics:            collector,
		Logger:             log,
	})

	srv := server.New(sched, st, registry, log)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting mattersync", "addr", cfg.ListenAddr)

	go sched.Run(ctx)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown http server", "error", err)
	}

	log.Info("mattersync stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
