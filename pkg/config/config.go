package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Downloads    DownloadsConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	Storage      StorageConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Email        EmailConfig
	Identity     IdentityConfig
	AI           AIConfig
	Import       ImportConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string   `envconfig:"SHOPDECK_APP_ENV" required:"true"`
	Port           string   `envconfig:"SHOPDECK_APP_PORT" required:"true"`
	PublicURL      string   `envconfig:"SHOPDECK_APP_PUBLIC_URL" default:"http://localhost:3000"`
	APIBaseURL     string   `envconfig:"SHOPDECK_APP_API_BASE_URL" default:"http://localhost:8080"`
	AllowedOrigins []string `envconfig:"SHOPDECK_APP_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogLevel       string   `envconfig:"SHOPDECK_LOG_LEVEL" default:"info"`
	LogWarnStack   bool     `envconfig:"SHOPDECK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPDECK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPDECK_DB_DSN"`
	Driver string `envconfig:"SHOPDECK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPDECK_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPDECK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPDECK_DB_USER"`
	LegacyPassword string `envconfig:"SHOPDECK_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPDECK_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPDECK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPDECK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPDECK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPDECK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPDECK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPDECK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPDECK_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPDECK_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPDECK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPDECK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPDECK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPDECK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPDECK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPDECK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig holds the verification settings for session tokens minted by the
// identity provider.
type AuthConfig struct {
	SessionSecret string        `envconfig:"SHOPDECK_AUTH_SESSION_SECRET" required:"true"`
	Issuer        string        `envconfig:"SHOPDECK_AUTH_ISSUER" required:"true"`
	ClockSkew     time.Duration `envconfig:"SHOPDECK_AUTH_CLOCK_SKEW" default:"30s"`
}

type DownloadsConfig struct {
	TokenSecret  string        `envconfig:"SHOPDECK_DOWNLOAD_TOKEN_SECRET" required:"true"`
	TokenIssuer  string        `envconfig:"SHOPDECK_DOWNLOAD_TOKEN_ISSUER" default:"shopdeck-downloads"`
	LinkTTL      time.Duration `envconfig:"SHOPDECK_DOWNLOAD_LINK_TTL" default:"168h"`
	MaxDownloads int           `envconfig:"SHOPDECK_DOWNLOAD_MAX_COUNT" default:"5"`
	SignedURLTTL time.Duration `envconfig:"SHOPDECK_DOWNLOAD_SIGNED_URL_TTL" default:"5m"`
}

type RateLimitConfig struct {
	Window        time.Duration `envconfig:"SHOPDECK_RATE_LIMIT_WINDOW" default:"1m"`
	DefaultLimit  int           `envconfig:"SHOPDECK_RATE_LIMIT_DEFAULT" default:"120"`
	ImportLimit   int           `envconfig:"SHOPDECK_RATE_LIMIT_IMPORT" default:"5"`
	CheckoutLimit int           `envconfig:"SHOPDECK_RATE_LIMIT_CHECKOUT" default:"20"`
	DownloadLimit int           `envconfig:"SHOPDECK_RATE_LIMIT_DOWNLOAD" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOPDECK_AUTO_MIGRATE" default:"false"`
	AIImport    bool `envconfig:"SHOPDECK_FEATURE_AI_IMPORT" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SHOPDECK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPDECK_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SHOPDECK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPDECK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type StorageConfig struct {
	BucketName        string        `envconfig:"SHOPDECK_GCS_BUCKET_NAME" required:"true"`
	ImportPrefix      string        `envconfig:"SHOPDECK_GCS_IMPORT_PREFIX" default:"imports"`
	DownloadURLExpiry time.Duration `envconfig:"SHOPDECK_GCS_DOWNLOAD_URL_EXPIRY" default:"5m"`
}

type PubSubConfig struct {
	JobsTopic             string `envconfig:"SHOPDECK_PUBSUB_JOBS_TOPIC" required:"true"`
	JobsSubscription      string `envconfig:"SHOPDECK_PUBSUB_JOBS_SUBSCRIPTION" required:"true"`
	OrdersTopic           string `envconfig:"SHOPDECK_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription    string `envconfig:"SHOPDECK_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	EmailTopic            string `envconfig:"SHOPDECK_PUBSUB_EMAIL_TOPIC" default:"sd-email-requests"`
	EmailSubscription     string `envconfig:"SHOPDECK_PUBSUB_EMAIL_SUBSCRIPTION" required:"true"`
	AnalyticsTopic        string `envconfig:"SHOPDECK_PUBSUB_ANALYTICS_TOPIC" required:"true"`
	AnalyticsSubscription string `envconfig:"SHOPDECK_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset     string `envconfig:"SHOPDECK_BIGQUERY_DATASET" default:"shopdeck"`
	EventsTable string `envconfig:"SHOPDECK_BIGQUERY_EVENTS_TABLE" default:"store_events"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"SHOPDECK_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"SHOPDECK_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"SHOPDECK_STRIPE_ENV" default:"test"`
	SuccessPath   string `envconfig:"SHOPDECK_STRIPE_SUCCESS_PATH" default:"/checkout/success"`
	CancelPath    string `envconfig:"SHOPDECK_STRIPE_CANCEL_PATH" default:"/checkout/cancel"`
	MaxRetries    int    `envconfig:"SHOPDECK_STRIPE_MAX_RETRIES" default:"3"`

	// WebhookDedupeTTL bounds how long a processed event id is remembered.
	WebhookDedupeTTL time.Duration `envconfig:"SHOPDECK_STRIPE_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type EmailConfig struct {
	APIKey      string        `envconfig:"SHOPDECK_RESEND_API_KEY"`
	BaseURL     string        `envconfig:"SHOPDECK_RESEND_BASE_URL" default:"https://api.resend.com"`
	DefaultFrom string        `envconfig:"SHOPDECK_EMAIL_FROM" default:"ShopDeck <no-reply@shopdeck.dev>"`
	Timeout     time.Duration `envconfig:"SHOPDECK_EMAIL_TIMEOUT" default:"10s"`
	MaxRetries  int           `envconfig:"SHOPDECK_EMAIL_MAX_RETRIES" default:"3"`
}

type IdentityConfig struct {
	SecretKey   string        `envconfig:"SHOPDECK_IDENTITY_SECRET_KEY"`
	BaseURL     string        `envconfig:"SHOPDECK_IDENTITY_BASE_URL" default:"https://api.clerk.com/v1"`
	Timeout     time.Duration `envconfig:"SHOPDECK_IDENTITY_TIMEOUT" default:"10s"`
	Concurrency int           `envconfig:"SHOPDECK_IDENTITY_CONCURRENCY" default:"5"`
	CacheTTL    time.Duration `envconfig:"SHOPDECK_IDENTITY_CACHE_TTL" default:"5m"`
}

type AIConfig struct {
	APIKey      string `envconfig:"SHOPDECK_GEMINI_API_KEY"`
	Model       string `envconfig:"SHOPDECK_GEMINI_MODEL" default:"gemini-2.5-flash"`
	Concurrency int    `envconfig:"SHOPDECK_AI_CONCURRENCY" default:"3"`
	MaxRetries  int    `envconfig:"SHOPDECK_AI_MAX_RETRIES" default:"2"`
	MaxImages   int    `envconfig:"SHOPDECK_AI_MAX_IMAGES" default:"25"`
}

type ImportConfig struct {
	MaxFileBytes    int64         `envconfig:"SHOPDECK_IMPORT_MAX_FILE_BYTES" default:"5242880"`
	MaxRows         int           `envconfig:"SHOPDECK_IMPORT_MAX_ROWS" default:"5000"`
	BatchSize       int           `envconfig:"SHOPDECK_IMPORT_BATCH_SIZE" default:"50"`
	MaxBatchRetries int           `envconfig:"SHOPDECK_IMPORT_MAX_BATCH_RETRIES" default:"3"`
	StatusTTL       time.Duration `envconfig:"SHOPDECK_IMPORT_STATUS_TTL" default:"24h"`
	LogRetention    time.Duration `envconfig:"SHOPDECK_IMPORT_LOG_RETENTION" default:"2160h"`
	StaleAfter      time.Duration `envconfig:"SHOPDECK_IMPORT_STALE_AFTER" default:"2h"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SHOPDECK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SHOPDECK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SHOPDECK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SHOPDECK_OUTBOX_RETENTION" default:"720h"`
}

// CronConfig holds the schedules (robfig/cron spec strings, seconds field
// included) for the cron worker.
type CronConfig struct {
	CheckoutExpirySchedule   string        `envconfig:"SHOPDECK_CRON_CHECKOUT_EXPIRY" default:"0 */5 * * * *"`
	ImportRetentionSchedule  string        `envconfig:"SHOPDECK_CRON_IMPORT_RETENTION" default:"0 30 3 * * *"`
	ImportStaleSchedule      string        `envconfig:"SHOPDECK_CRON_IMPORT_STALE" default:"0 */10 * * * *"`
	DownloadExpirySchedule   string        `envconfig:"SHOPDECK_CRON_DOWNLOAD_EXPIRY" default:"0 0 * * * *"`
	SubscriptionSyncSchedule string        `envconfig:"SHOPDECK_CRON_SUBSCRIPTION_SYNC" default:"0 15 * * * *"`
	OutboxRetentionSchedule  string        `envconfig:"SHOPDECK_CRON_OUTBOX_RETENTION" default:"0 0 4 * * *"`
	LockTTL                  time.Duration `envconfig:"SHOPDECK_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	legacy := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	var missing []string
	for _, key := range legacyDBEnvVars {
		if legacy[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		user = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}
	db.DSN = u.String()
	return nil
}
