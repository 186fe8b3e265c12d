package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/shopdeck-backend/api/controllers"
	analyticscontrollers "github.com/angelmondragon/shopdeck-backend/api/controllers/analytics"
	ordercontrollers "github.com/angelmondragon/shopdeck-backend/api/controllers/orders"
	subscriptioncontrollers "github.com/angelmondragon/shopdeck-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/shopdeck-backend/api/controllers/webhooks"
	"github.com/angelmondragon/shopdeck-backend/api/middleware"
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
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/shopdeck-backend/pkg/redis"
)

// Params carries everything the API routes are built from.
type Params struct {
	Config *config.Config
	Logger *logger.Logger

	Readiness      []controllers.Check
	MetricsHandler http.Handler
	HTTPMetrics    middleware.RequestObserver
	Idempotency    pkgredis.IdempotencyStore
	RateLimiter    middleware.RateLimiter

	Stores        stores.Service
	Categories    categories.Service
	Products      products.Service
	Imports       imports.Service
	Checkout      checkout.Service
	Orders        orders.Service
	Downloads     downloads.Service
	Subscriptions subscriptions.Service
	Analytics     analytics.Service
	Customers     customers.Service

	StripeWebhook  webhookcontrollers.StripeWebhookService
	StripeVerifier webhookcontrollers.EventVerifier
	StripeGuard    webhookcontrollers.EventGuard
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	limits := cfg.RateLimit
	policy := func(group string, limit int) func(http.Handler) http.Handler {
		return middleware.RateLimit(middleware.RateLimitPolicy{Group: group, Window: limits.Window, Limit: limit}, p.RateLimiter, logg)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTPMetrics),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness...))
	})
	if p.MetricsHandler != nil {
		r.Handle("/metrics", p.MetricsHandler)
	}

	r.Post("/api/v1/webhooks/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhook, p.StripeVerifier, p.StripeGuard, logg))
	r.With(policy("download", limits.DownloadLimit)).Get("/api/v1/downloads/{token}", controllers.RedeemDownload(p.Downloads, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))
		r.Use(policy("api", limits.DefaultLimit))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Get("/stores", controllers.ListStores(p.Stores, logg))
		r.Post("/stores", controllers.CreateStore(p.Stores, logg))

		r.Route("/stores/{storeId}", func(r chi.Router) {
			// buyer-facing: any signed-in user may buy from or subscribe to a store
			r.Group(func(r chi.Router) {
				r.Use(middleware.StoreScope(logg))

				r.With(policy("checkout", limits.CheckoutLimit)).Post("/checkout", controllers.CreateCheckout(p.Checkout, logg))
				r.Get("/checkout/{sessionId}", controllers.GetCheckout(p.Checkout, logg))

				r.Route("/subscription", func(r chi.Router) {
					r.Get("/", subscriptioncontrollers.Get(p.Subscriptions, logg))
					r.Get("/eligibility", subscriptioncontrollers.Eligibility(p.Subscriptions, logg))
					r.With(policy("checkout", limits.CheckoutLimit)).Post("/checkout", subscriptioncontrollers.Checkout(p.Subscriptions, logg))
					r.Post("/cancel", subscriptioncontrollers.Cancel(p.Subscriptions, logg))
				})
			})

			// store management: owner or platform admin
			r.Group(func(r chi.Router) {
				r.Use(middleware.StoreAccess(p.Stores, logg))

				r.Get("/", controllers.GetStore(p.Stores, logg))
				r.Patch("/", controllers.UpdateStore(p.Stores, logg))
				r.Delete("/", controllers.DeleteStore(p.Stores, logg))

				r.Route("/categories", func(r chi.Router) {
					r.Get("/", controllers.ListCategories(p.Categories, logg))
					r.Post("/", controllers.CreateCategory(p.Categories, logg))
					r.Patch("/{categoryId}", controllers.RenameCategory(p.Categories, logg))
					r.Delete("/{categoryId}", controllers.DeleteCategory(p.Categories, logg))
				})

				r.Route("/products", func(r chi.Router) {
					r.Get("/", controllers.ListProducts(p.Products, logg))
					r.Post("/", controllers.CreateProduct(p.Products, logg))
					r.Get("/export", controllers.ExportProducts(p.Products, logg))
					r.Get("/{productId}", controllers.GetProduct(p.Products, logg))
					r.Patch("/{productId}", controllers.UpdateProduct(p.Products, logg))
					r.Delete("/{productId}", controllers.DeleteProduct(p.Products, logg))
				})

				r.Route("/imports", func(r chi.Router) {
					r.Get("/", controllers.ListImportLogs(p.Imports, logg))
					r.Get("/template", controllers.ImportTemplate(p.Imports, logg))
					r.Get("/jobs/{jobId}", controllers.GetImportStatus(p.Imports, logg))
					r.Get("/{logId}", controllers.GetImportLog(p.Imports, logg))
					r.Group(func(r chi.Router) {
						r.Use(policy("import", limits.ImportLimit))
						r.Post("/", controllers.StartImport(p.Imports, cfg.Import.MaxFileBytes, logg))
						r.Post("/ai", controllers.StartAIImport(p.Imports, logg))
					})
				})

				r.Route("/orders", func(r chi.Router) {
					r.Get("/", ordercontrollers.List(p.Orders, logg))
					r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
					r.Get("/{orderId}/downloads", controllers.ListOrderDownloads(p.Downloads, logg))
					r.Post("/{orderId}/downloads/resend", controllers.ResendDownloads(p.Downloads, logg))
				})

				r.Route("/analytics", func(r chi.Router) {
					r.Get("/overview", analyticscontrollers.StoreOverview(p.Analytics, logg))
					r.Get("/orders.csv", analyticscontrollers.ExportOrders(p.Analytics, logg))
				})

				r.Get("/customers", controllers.ListCustomers(p.Customers, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(policy("admin", limits.DefaultLimit))
		r.Get("/analytics/overview", analyticscontrollers.PlatformOverview(p.Analytics, logg))
	})

	return r
}
