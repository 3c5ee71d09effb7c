package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/deusflow/truthly/internal/app"
	"github.com/deusflow/truthly/internal/config"
	"github.com/deusflow/truthly/internal/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	logger.Info("Truthly backend starting", "port", cfg.Port, "ensemble", cfg.EnsembleServiceURL, "debug", cfg.Debug)
	if err := a.Run(ctx); err != nil {
		logger.Error("Server stopped", "error", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
