package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"capt-agent/internal/app"
	"capt-agent/internal/config"
	"capt-agent/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dev server stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "err", err)
		}
	}()

	return server.NewServer(cfg.Port, a.Service, logger).Run(ctx)
}
