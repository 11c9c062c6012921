package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tiltbook/internal/config"
	"tiltbook/internal/db"
	"tiltbook/internal/events"
	"tiltbook/internal/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := ledger.NewService(ledger.NewPostgresStore(pool), logger, events.Nop{})

	if cfg.RunOnce {
		healed, err := svc.ReconcileAll(ctx)
		if err != nil {
			logger.Error("reconcile sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("reconcile run-once completed", "healed", healed)
		return
	}

	ticker := time.NewTicker(cfg.ReconcileEvery)
	defer ticker.Stop()

	logger.Info("worker started", "reconcile_every", cfg.ReconcileEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			healed, err := svc.ReconcileAll(ctx)
			if err != nil {
				logger.Error("reconcile sweep failed", "err", err)
				continue
			}
			logger.Info("reconcile sweep complete", "healed", healed)
		}
	}
}
