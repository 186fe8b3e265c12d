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

	"github.com/angelmondragon/shopdeck-backend/internal/analytics"
	"github.com/angelmondragon/shopdeck-backend/internal/categories"
	"github.com/angelmondragon/shopdeck-backend/internal/consumers"
	"github.com/angelmondragon/shopdeck-backend/internal/downloads"
	"github.com/angelmondragon/shopdeck-backend/internal/email"
	"github.com/angelmondragon/shopdeck-backend/internal/imports"
	"github.com/angelmondragon/shopdeck-backend/internal/orders"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	"github.com/angelmondragon/shopdeck-backend/internal/stores"
	"github.com/angelmondragon/shopdeck-backend/pkg/bigquery"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/gemini"
	"github.com/angelmondragon/shopdeck-backend/pkg/instance"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/metrics"
	"github.com/angelmondragon/shopdeck-backend/pkg/migrate"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/registry"
	"github.com/angelmondragon/shopdeck-backend/pkg/pubsub"
	"github.com/angelmondragon/shopdeck-backend/pkg/redis"
	"github.com/angelmondragon/shopdeck-backend/pkg/resend"
	"github.com/angelmondragon/shopdeck-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(bootCtx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing pubsub client", err)
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

	bqClient, err := bigquery.NewClient(bootCtx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing bigquery client", err)
		}
	}()

	resendClient, err := resend.NewClient(cfg.Email)
	if err != nil {
		logg.Error(bootCtx, "failed to build resend client", err)
		os.Exit(1)
	}

	var analyzer imports.Analyzer
	if cfg.FeatureFlags.AIImport {
		geminiClient, err := gemini.NewClient(bootCtx, cfg.AI)
		switch {
		case errors.Is(err, gemini.ErrAPIKeyRequired):
			logg.Warn(bootCtx, "gemini api key missing; ai imports will fail")
		case err != nil:
			logg.Error(bootCtx, "failed to bootstrap gemini", err)
			os.Exit(1)
		default:
			analyzer = geminiClient
			defer func() {
				if err := geminiClient.Close(); err != nil {
					logg.Error(bootCtx, "error closing gemini client", err)
				}
			}()
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	orderRepo := orders.NewRepository(conn)
	productRepo := products.NewRepository(conn)

	processor, err := imports.NewProcessor(imports.ProcessorParams{
		Repo:       imports.NewRepository(conn),
		Products:   productRepo,
		Categories: categories.NewRepository(conn),
		Tx:         dbClient,
		Objects:    gcsClient,
		Status:     imports.NewStatusStore(redisClient, cfg.Import.StatusTTL),
		Outbox:     outboxSvc,
		Analyzer:   analyzer,
		Metrics:    metrics.NewImportMetrics(promRegistry),
		Config:     cfg.Import,
		AI:         cfg.AI,
		PublicURL:  cfg.App.PublicURL,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(bootCtx, "failed to build import processor", err)
		os.Exit(1)
	}

	downloadSvc, err := downloads.NewService(downloads.ServiceParams{
		Repo:       downloads.NewRepository(conn),
		Orders:     orderRepo,
		Products:   productRepo,
		Stores:     stores.NewRepository(conn),
		Signer:     gcsClient,
		Outbox:     outboxSvc,
		Tx:         dbClient,
		Config:     cfg.Downloads,
		APIBaseURL: cfg.App.APIBaseURL,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(bootCtx, "failed to build downloads service", err)
		os.Exit(1)
	}

	mailer, err := email.NewService(resendClient, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to build email service", err)
		os.Exit(1)
	}

	sink, err := analytics.NewSink(bqClient, cfg.BigQuery.EventsTable)
	if err != nil {
		logg.Error(bootCtx, "failed to build analytics sink", err)
		os.Exit(1)
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(bootCtx, "failed to build event registry", err)
		os.Exit(1)
	}
	claims, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(bootCtx, "failed to build idempotency manager", err)
		os.Exit(1)
	}

	specs := []struct {
		name    string
		sub     string
		handler consumers.Handler
	}{
		{consumers.JobsConsumer, cfg.PubSub.JobsSubscription, consumers.JobsHandler{Processor: processor}},
		{consumers.OrdersConsumer, cfg.PubSub.OrdersSubscription, consumers.OrdersHandler{Downloads: downloadSvc}},
		{consumers.EmailConsumer, cfg.PubSub.EmailSubscription, consumers.EmailHandler{Mailer: mailer}},
		{consumers.AnalyticsConsumer, cfg.PubSub.AnalyticsSubscription, consumers.AnalyticsHandler{Sink: sink, Events: analytics.SinkEvents}},
	}
	running := make([]*consumers.Consumer, 0, len(specs))
	for _, spec := range specs {
		c, err := consumers.New(consumers.Params{
			Name:         spec.name,
			Subscription: pubsubClient.Subscription(spec.sub),
			Registry:     eventRegistry,
			Claims:       claims,
			Handler:      spec.handler,
			Logger:       logg,
		})
		if err != nil {
			logg.Error(bootCtx, "failed to build consumer "+spec.name, err)
			os.Exit(1)
		}
		running = append(running, c)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	service, err := NewService(ServiceParams{
		Logger:    logg,
		Consumers: running,
		Dependencies: []dependency{
			{name: "database", ping: dbClient.Ping},
			{name: "redis", ping: redisClient.Ping},
			{name: "pubsub", ping: pubsubClient.Ping},
			{name: "gcs", ping: gcsClient.Ping},
			{name: "bigquery", ping: bqClient.Ping},
		},
		MetricsServer: &http.Server{
			Addr:              net.JoinHostPort("", cfg.App.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	})
	if err != nil {
		logg.Error(bootCtx, "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
