package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referpay/config"
	"referpay/internal/database"
	"referpay/internal/router"
	"referpay/pkg/payment"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var provider payment.TransferProvider
	if cfg.Stripe.SecretKey != "" {
		provider = payment.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.RequestTimeout, logger)
		log.Printf("[payments] Stripe transfers enabled (%s)", cfg.Stripe.Currency)
	} else {
		provider = payment.NewStubProvider(logger)
		log.Printf("[payments] STRIPE_SECRET_KEY not set: using stub transfers, no money will move")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Printf("[payments] STRIPE_WEBHOOK_SECRET not set: transfer webhooks are not verified")
	}

	engine, sweeper := router.Setup(cfg, db, provider, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	log.Println("server stopped")
}

func newLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
