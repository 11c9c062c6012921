package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tiltbook/internal/account"
	"tiltbook/internal/api"
	"tiltbook/internal/auth"
	"tiltbook/internal/billing"
	"tiltbook/internal/config"
	"tiltbook/internal/db"
	"tiltbook/internal/events"
	"tiltbook/internal/games"
	"tiltbook/internal/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	var sink ledger.EventSink = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		sink = publisher
		logger.Info("kafka publisher enabled", "topic", cfg.KafkaTopic)
	}

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	ledgerSvc := ledger.NewService(ledger.NewPostgresStore(pool), logger, sink)
	accountSvc := account.NewService(pool, logger, cfg.FreeUploads)
	gamesSvc := games.NewService(pool, logger)

	var billingClient *billing.Client
	if cfg.BillingConfigured() {
		billingClient = billing.NewClient(billing.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			PriceID:       cfg.StripePriceID,
			SuccessURL:    cfg.CheckoutSuccessURL,
			CancelURL:     cfg.CheckoutCancelURL,
		})
	} else {
		logger.Warn("stripe keys missing, billing routes disabled")
	}

	server := api.New(cfg, logger, authClient, ledgerSvc, accountSvc, gamesSvc, billingClient)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("tiltbook api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
