package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shopdeck-backend/internal/checkout"
	"github.com/angelmondragon/shopdeck-backend/internal/cron"
	"github.com/angelmondragon/shopdeck-backend/internal/downloads"
	"github.com/angelmondragon/shopdeck-backend/internal/imports"
	"github.com/angelmondragon/shopdeck-backend/internal/orders"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	"github.com/angelmondragon/shopdeck-backend/internal/stores"
	"github.com/angelmondragon/shopdeck-backend/internal/subscriptions"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/instance"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/metrics"
	"github.com/angelmondragon/shopdeck-backend/pkg/migrate"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/redis"
	"github.com/angelmondragon/shopdeck-backend/pkg/storage/gcs"
	pkgstripe "github.com/angelmondragon/shopdeck-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.Storage, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs client", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gateway := pkgstripe.NewGateway(stripeClient, metrics.NewStripeMetrics(prometheus.DefaultRegisterer).IncRetry)

	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)
	orderRepo := orders.NewRepository(conn)
	productRepo := products.NewRepository(conn)
	storeRepo := stores.NewRepository(conn)
	checkoutRepo := checkout.NewRepository(conn)

	orderSvc, err := orders.NewService(orderRepo, outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build orders service", err)
		os.Exit(1)
	}
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Repo:        checkoutRepo,
		Orders:      orderRepo,
		OrderFlow:   orderSvc,
		Products:    productRepo,
		Stores:      storeRepo,
		Gateway:     gateway,
		Tx:          dbClient,
		PublicURL:   cfg.App.PublicURL,
		SuccessPath: cfg.Stripe.SuccessPath,
		CancelPath:  cfg.Stripe.CancelPath,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build checkout service", err)
		os.Exit(1)
	}
	subscriptionSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:        subscriptions.NewRepository(conn),
		Sessions:    checkoutRepo,
		Stores:      storeRepo,
		Gateway:     gateway,
		Tx:          dbClient,
		Outbox:      outboxSvc,
		PublicURL:   cfg.App.PublicURL,
		SuccessPath: cfg.Stripe.SuccessPath,
		CancelPath:  cfg.Stripe.CancelPath,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build subscriptions service", err)
		os.Exit(1)
	}
	downloadSvc, err := downloads.NewService(downloads.ServiceParams{
		Repo:       downloads.NewRepository(conn),
		Orders:     orderRepo,
		Products:   productRepo,
		Stores:     storeRepo,
		Signer:     gcsClient,
		Outbox:     outboxSvc,
		Tx:         dbClient,
		Config:     cfg.Downloads,
		APIBaseURL: cfg.App.APIBaseURL,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build downloads service", err)
		os.Exit(1)
	}

	importRepo := imports.NewRepository(conn)
	staleImports, err := imports.NewStaleSweeper(importRepo, dbClient, imports.NewStatusStore(redisClient, cfg.Import.StatusTTL), outboxSvc, cfg.Import.StaleAfter, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build stale import sweeper", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, jobDeps{
		checkout:      checkoutSvc,
		imports:       importRepo,
		staleImports:  staleImports,
		downloads:     downloadSvc,
		subscriptions: subscriptionSvc,
		outbox:        outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	locker, err := cron.NewRedisLocker(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	// Run one job and exit: cron-worker <job-name>
	if len(os.Args) > 1 {
		if err := service.RunNow(ctx, os.Args[1]); err != nil {
			logg.Error(ctx, "manual cron run failed", err)
			os.Exit(1)
		}
		return
	}

	metricsServer := &http.Server{
		Addr:              net.JoinHostPort("", cfg.App.Port),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
