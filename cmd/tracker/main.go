package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"keyword_tracker/internal/bot"
	"keyword_tracker/internal/config"
	"keyword_tracker/internal/discord"
	"keyword_tracker/internal/dispatch"
	"keyword_tracker/internal/engine"
	"keyword_tracker/internal/metrics"
	"keyword_tracker/internal/storage"
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

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	session, err := discord.New(cfg.DiscordToken, log.With("component", "discord"))
	if err != nil {
		log.Error("create discord session", "error", err)
		os.Exit(1)
	}
	dir := session.Directory()

	queue := dispatch.New(store, cfg.QueueSize, log.With("component", "dispatch"))

	b, err := bot.New(cfg.TelegramBotToken, cfg, queue, store, dir, log.With("component", "bot"))
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	eng := engine.New(dir, store, b, store, log.With("component", "engine"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting tracker")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(ctx, eng) })
	g.Go(func() error { return session.Run(ctx, queue) })
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})
	if cfg.MetricsAddr != "" {
		h := metrics.Handler(metrics.NewRegistry(queue))
		g.Go(func() error { return metrics.Serve(ctx, cfg.MetricsAddr, h, log.With("component", "metrics")) })
	}

	if err := g.Wait(); err != nil {
		log.Error("tracker stopped", "error", err)
		os.Exit(1)
	}

	log.Info("tracker stopped")
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
