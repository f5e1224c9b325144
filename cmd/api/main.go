package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xavierca1/lead-market/internal/app"
	"github.com/xavierca1/lead-market/internal/config"
	"github.com/xavierca1/lead-market/internal/infra/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config.invalid", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init_failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		log.Error("db.migrate_failed", "err", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("app.stopped", "err", err)
		os.Exit(1)
	}
	log.Info("app.shutdown")
}
