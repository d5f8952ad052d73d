package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/oakline-backend/api/routes"
	"github.com/angelmondragon/oakline-backend/internal/alerts"
	"github.com/angelmondragon/oakline-backend/internal/checkout"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/internal/notifications"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/internal/returns"
	stripewebhook "github.com/angelmondragon/oakline-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/oakline-backend/pkg/config"
	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/email"
	"github.com/angelmondragon/oakline-backend/pkg/instance"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/metrics"
	"github.com/angelmondragon/oakline-backend/pkg/migrate"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/oakline-backend/pkg/redis"
	"github.com/angelmondragon/oakline-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()

	conn := dbClient.DB()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return err
	}
	inventoryRepo := inventory.NewRepository(conn)
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		DB:      dbClient,
		Repo:    inventoryRepo,
		Ledger:  ledgerSvc,
		Logger:  logg,
		Metrics: metrics.NewInventoryMetrics(registry),
	})
	if err != nil {
		return err
	}

	ordersRepo := orders.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	notifier := notifications.NewService(email.New(cfg.Sendgrid, logg), logg)
	alerter := alerts.New(logg, metrics.NewAlertMetrics(registry))

	ordersSvc, err := orders.NewService(ordersRepo, dbClient, emitter, notifier)
	if err != nil {
		return err
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		DB:        dbClient,
		Repo:      checkout.NewRepository(conn),
		Orders:    ordersRepo,
		Inventory: inventorySvc,
		Outbox:    emitter,
		Payments:  stripeClient,
		Limiter:   redisClient,
		Logger:    logg,
		Options: checkout.Options{
			Currency:        cfg.Checkout.DefaultCurrency,
			ReservationTTL:  cfg.Checkout.ReservationTTL,
			SuccessURL:      cfg.Stripe.SuccessURL,
			CancelURL:       cfg.Stripe.CancelURL,
			RateLimit:       cfg.Checkout.RateLimitPerUser,
			RateLimitWindow: cfg.Checkout.RateLimitWindow,
		},
	})
	if err != nil {
		return err
	}

	returnsSvc, err := returns.NewService(returns.ServiceParams{
		DB:        dbClient,
		Repo:      returns.NewRepository(conn),
		Orders:    ordersRepo,
		Inventory: inventorySvc,
		Refunds:   stripeClient,
		Outbox:    emitter,
		Notifier:  notifier,
		Alerts:    alerter,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		DB:        dbClient,
		Orders:    ordersRepo,
		Inventory: inventorySvc,
		Refunds:   returnsSvc,
		Outbox:    emitter,
		Notifier:  notifier,
		Alerts:    alerter,
		Metrics:   metrics.NewWebhookMetrics(registry),
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	idem, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return err
	}
	guard, err := stripewebhook.NewIdempotencyGuard(idem, stripewebhook.ConsumerName)
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Dependencies{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Checkout:       checkoutSvc,
		Orders:         ordersSvc,
		Returns:        returnsSvc,
		Inventory:      inventorySvc,
		Products:       inventoryRepo,
		Ledger:         ledgerSvc,
		StripeWebhook:  webhookSvc,
		StripeVerifier: stripeClient,
		WebhookGuard:   guard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.ID(),
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
