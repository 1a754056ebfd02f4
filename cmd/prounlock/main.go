package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/app/controllers"
	"github.com/ManuelReschke/ProUnlock/app/repository"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/accounts"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/billing"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/cache"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/config"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/database"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/env"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/logging"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/paypal"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/router"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("prounlock stopped")
	}
}

func run() error {
	envFile := env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.App.LogLevel, cfg.IsDev())
	if envFile != "" {
		log.WithField("file", envFile).Info("loaded environment file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := NewApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := net.JoinHostPort(cfg.App.Host, cfg.App.Port)
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	return app.ShutdownWithTimeout(shutdownTimeout)
}

// NewApplication wires the server. The returned cleanup closes the database
// and Redis connections.
func NewApplication(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*fiber.App, func(), error) {
	db, err := database.Open(ctx, cfg.DB, log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("database schema auto-migrated")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	rdb := cache.NewClient(ctx, cfg.Cache, log)

	pp := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		BaseURL:      cfg.PayPal.BaseURL,
		Timeout:      cfg.PayPal.HTTPTimeout,
	}, paypal.NewFallbackTokenCache(paypal.NewRedisTokenCache(rdb)), log.WithField("component", "paypal"))
	if !pp.Configured() {
		log.Error("PayPal credentials or webhook id missing; webhooks will be rejected")
	}

	counters := counter.NewRedisCounters(rdb, log)
	accts := accounts.NewService(repository.NewRepositories(db, cfg.DB.QueryTimeout), log.WithField("component", "accounts"))
	billingRepo := billing.NewRepository(db, cfg.DB.QueryTimeout)
	billingLog := log.WithField("component", "billing")

	ingestor := billing.NewIngestor(billingRepo, pp, billing.VerifyMode(cfg.PayPal.VerifyMode), billingLog, counters)
	claims := billing.NewService(billingRepo, accts, billing.ClaimPolicy{
		MinAmount:    cfg.Claims.MinAmount,
		Currency:     cfg.Claims.Currency,
		VerifyWindow: cfg.Claims.VerifyWindow,
		RedeemWindow: cfg.Claims.RedeemWindow,
		Cooldown:     cfg.Claims.Cooldown,
	}, billingLog, counters)

	sessions := session.NewSessionStore(cfg.Cache, !cfg.IsDev())

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.App.BodyLimit,
	})
	app.Use(
		recover.New(),
		requestid.New(requestid.Config{Generator: uuid.NewString}),
		logger.New(logger.Config{Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n"}),
	)

	router.InstallRouter(app, router.Dependencies{
		Billing:      controllers.NewBillingController(ingestor, claims, counters, sessions, log.WithField("component", "http")),
		Sessions:     sessions,
		Entitlements: accts,
		Metrics:      cfg.Metrics,
		Health: func(ctx context.Context) error {
			return errors.Join(sqlDB.PingContext(ctx), cache.Reachable(ctx, rdb))
		},
		Log: log,
	})

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("closing redis")
		}
		if err := sqlDB.Close(); err != nil {
			log.WithError(err).Warn("closing database")
		}
	}
	return app, cleanup, nil
}
