package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/oakline-backend/internal/cron"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/pkg/config"
	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/instance"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/metrics"
	"github.com/angelmondragon/oakline-backend/pkg/migrate"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/redis"
)

func main() {
	jobName := flag.String("job", "", "run one job once and exit (order-expiry, outbox-retention)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID(),
	})

	if err := run(ctx, cfg, logg, *jobName); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// run wires the worker. With job set it runs that job once under the
// leader lock and returns; otherwise it loops until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, job string) error {
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

	reg := metrics.NewRegistry()
	jobs, err := buildJobs(cfg, logg, dbClient, reg)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.DefaultLockName), 0)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronMetrics(reg),
		Interval: time.Duration(cfg.Checkout.CronIntervalSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	if job != "" {
		return service.RunOnce(ctx, job)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.App.MetricsAddr, reg, logg)
	})
	g.Go(func() error {
		logg.Info(gctx, "starting cron worker")
		return service.Run(gctx)
	})
	return g.Wait()
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*cron.Registry, error) {
	conn := dbClient.DB()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		DB:      dbClient,
		Repo:    inventory.NewRepository(conn),
		Ledger:  ledgerSvc,
		Logger:  logg,
		Metrics: metrics.NewInventoryMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	outboxRepo := outbox.NewRepository(conn)
	expiry, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger:    logg,
		DB:        dbClient,
		Orders:    orders.NewRepository(conn),
		Inventory: inventorySvc,
		Outbox:    outbox.NewService(outboxRepo, logg),
		TTL:       cfg.Checkout.ReservationTTL,
		BatchSize: cfg.Checkout.ExpiryBatchSize,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expiry, retention)
}
