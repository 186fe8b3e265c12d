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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shopdeck-backend/api/controllers"
	"github.com/angelmondragon/shopdeck-backend/api/routes"
	"github.com/angelmondragon/shopdeck-backend/internal/analytics"
	"github.com/angelmondragon/shopdeck-backend/internal/categories"
	"github.com/angelmondragon/shopdeck-backend/internal/checkout"
	"github.com/angelmondragon/shopdeck-backend/internal/customers"
	"github.com/angelmondragon/shopdeck-backend/internal/downloads"
	"github.com/angelmondragon/shopdeck-backend/internal/imports"
	"github.com/angelmondragon/shopdeck-backend/internal/orders"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	"github.com/angelmondragon/shopdeck-backend/internal/stores"
	"github.com/angelmondragon/shopdeck-backend/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/shopdeck-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/identity"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		logg.Error(bootCtx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(bootCtx, cfg.Storage, cfg.GCP, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing gcs client", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stripeClient, err := pkgstripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gateway := pkgstripe.NewGateway(stripeClient, metrics.NewStripeMetrics(promRegistry).IncRetry)

	identityClient, err := identity.NewClient(cfg.Identity)
	if err != nil {
		logg.Error(bootCtx, "failed to build identity client", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	storeRepo := stores.NewRepository(conn)
	categoryRepo := categories.NewRepository(conn)
	productRepo := products.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	checkoutRepo := checkout.NewRepository(conn)
	subscriptionRepo := subscriptions.NewRepository(conn)
	importRepo := imports.NewRepository(conn)

	fail := func(msg string, err error) {
		logg.Error(bootCtx, msg, err)
		os.Exit(1)
	}

	storeSvc, err := stores.NewService(storeRepo)
	if err != nil {
		fail("failed to build store service", err)
	}
	categorySvc, err := categories.NewService(categoryRepo)
	if err != nil {
		fail("failed to build category service", err)
	}
	productSvc, err := products.NewService(productRepo, dbClient, categoryRepo)
	if err != nil {
		fail("failed to build product service", err)
	}
	importSvc, err := imports.NewService(imports.ServiceParams{
		Repo:          importRepo,
		Tx:            dbClient,
		Objects:       gcsClient,
		Status:        imports.NewStatusStore(redisClient, cfg.Import.StatusTTL),
		Outbox:        outboxSvc,
		Config:        cfg.Import,
		AI:            cfg.AI,
		AIEnabled:     cfg.FeatureFlags.AIImport,
		StoragePrefix: cfg.Storage.ImportPrefix,
		Logger:        logg,
	})
	if err != nil {
		fail("failed to build import service", err)
	}
	orderSvc, err := orders.NewService(orderRepo, outboxSvc, logg)
	if err != nil {
		fail("failed to build orders service", err)
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
		fail("failed to build checkout service", err)
	}
	subscriptionSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:        subscriptionRepo,
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
		fail("failed to build subscriptions service", err)
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
		fail("failed to build downloads service", err)
	}
	analyticsSvc, err := analytics.NewService(orderRepo, subscriptionRepo, storeRepo, importRepo)
	if err != nil {
		fail("failed to build analytics service", err)
	}
	customerSvc, err := customers.NewService(identityClient, orderRepo, redisClient, logg, customers.Options{
		Concurrency: cfg.Identity.Concurrency,
		CacheTTL:    cfg.Identity.CacheTTL,
	})
	if err != nil {
		fail("failed to build customer service", err)
	}
	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Checkout:      checkoutSvc,
		Orders:        orderRepo,
		OrderFlow:     orderSvc,
		Products:      productRepo,
		Subscriptions: subscriptionSvc,
		Downloads:     downloadSvc,
		Gateway:       gateway,
		Tx:            dbClient,
		Logger:        logg,
	})
	if err != nil {
		fail("failed to build stripe webhook service", err)
	}
	webhookGuard, err := stripewebhook.NewEventGuard(redisClient, cfg.Stripe.WebhookDedupeTTL, "")
	if err != nil {
		fail("failed to build stripe webhook guard", err)
	}

	handler := routes.NewRouter(routes.Params{
		Config: cfg,
		Logger: logg,
		Readiness: []controllers.Check{
			{Name: "database", Ping: dbClient.Ping},
			{Name: "redis", Ping: redisClient.Ping},
			{Name: "gcs", Ping: gcsClient.Ping},
		},
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		HTTPMetrics:    metrics.NewHTTPMetrics(promRegistry),
		Idempotency:    redisClient,
		RateLimiter:    redisClient,
		Stores:         storeSvc,
		Categories:     categorySvc,
		Products:       productSvc,
		Imports:        importSvc,
		Checkout:       checkoutSvc,
		Orders:         orderSvc,
		Downloads:      downloadSvc,
		Subscriptions:  subscriptionSvc,
		Analytics:      analyticsSvc,
		Customers:      customerSvc,
		StripeWebhook:  webhookSvc,
		StripeVerifier: stripeClient,
		StripeGuard:    webhookGuard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := net.JoinHostPort("", port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"addr":        addr,
		"instance":    instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
