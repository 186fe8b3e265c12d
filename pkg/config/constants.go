package config

const EnvPrefix = "SHOPDECK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv             = "SHOPDECK_APP_ENV"
	EnvPort               = "SHOPDECK_APP_PORT"
	EnvDBDSN              = "SHOPDECK_DB_DSN"
	EnvDBHost             = "SHOPDECK_DB_HOST"
	EnvDBUser             = "SHOPDECK_DB_USER"
	EnvDBName             = "SHOPDECK_DB_NAME"
	EnvRedisURL           = "SHOPDECK_REDIS_URL"
	EnvAuthSessionSecret  = "SHOPDECK_AUTH_SESSION_SECRET"
	EnvAuthIssuer         = "SHOPDECK_AUTH_ISSUER"
	EnvDownloadSecret     = "SHOPDECK_DOWNLOAD_TOKEN_SECRET"
	EnvGCPProjectID       = "SHOPDECK_GCP_PROJECT_ID"
	EnvGCSBucket          = "SHOPDECK_GCS_BUCKET_NAME"
	EnvPubSubJobsTopic    = "SHOPDECK_PUBSUB_JOBS_TOPIC"
	EnvPubSubJobsSub      = "SHOPDECK_PUBSUB_JOBS_SUBSCRIPTION"
	EnvPubSubOrdersTopic  = "SHOPDECK_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub    = "SHOPDECK_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubEmailSub     = "SHOPDECK_PUBSUB_EMAIL_SUBSCRIPTION"
	EnvPubSubAnalyticsTop = "SHOPDECK_PUBSUB_ANALYTICS_TOPIC"
	EnvPubSubAnalyticsSub = "SHOPDECK_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvImportBatchSize    = "SHOPDECK_IMPORT_BATCH_SIZE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
