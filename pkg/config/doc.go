// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. A zero-configuration start runs with the
// in-memory subject store, no Redis and no audit sink.
//
// # Configuration Structure
//
// Server settings:
//
//	REPWATCH_HOST="0.0.0.0"
//	REPWATCH_PORT="8080"
//	REPWATCH_READ_TIMEOUT="15s"
//	REPWATCH_SHUTDOWN_TIMEOUT="30s"
//
// Subject store settings:
//
//	REPWATCH_STORE_TYPE="postgres"  # memory, sqlite, postgres
//	REPWATCH_SQLITE_PATH="repwatch.db"
//	REPWATCH_POSTGRES_URL="postgres://localhost/repwatch"
//	REPWATCH_DB_MAX_OPEN_CONNS="20"
//
// Redis settings (plan change broadcast and shared rate limits):
//
//	REPWATCH_REDIS_URL="redis://localhost:6379"
//	REPWATCH_REDIS_POOL_SIZE="10"
//
// Entitlement settings:
//
//	REPWATCH_CATALOG_FILE="/etc/repwatch/plans.yaml"
//	REPWATCH_SESSION_CACHE_SIZE="10000"
//	REPWATCH_NOTIFY_CONCURRENCY="8"
//	REPWATCH_USAGE_RESET_CRON="0 0 1 * *"
//
// Audit settings:
//
//	REPWATCH_AUDIT_SINK="file"  # none, file, s3, both
//	REPWATCH_AUDIT_DIR="/var/log/repwatch/audit"
//	REPWATCH_AUDIT_S3_BUCKET="repwatch-audit"
//	REPWATCH_AUDIT_S3_ENDPOINT="http://minio:9000"
//
// Webhook settings (plan change notifications to external systems):
//
//	REPWATCH_WEBHOOK_URLS="https://crm.example.com/hooks/plan,https://billing.internal/plan"
//	REPWATCH_WEBHOOK_SECRET="shared-hmac-secret"
//	REPWATCH_WEBHOOK_MAX_ATTEMPTS="5"
//	REPWATCH_WEBHOOK_RETRY_INTERVAL="30s"
//
// Observability settings:
//
//	REPWATCH_LOG_LEVEL="info"  # debug, info, warn, error
//	REPWATCH_METRICS_ENABLED="true"
//	REPWATCH_OTEL_ENABLED="true"
//	REPWATCH_OTEL_ENDPOINT="otel-collector:4317"
//	REPWATCH_ENVIRONMENT="production"
//	REPWATCH_OTEL_SAMPLE_RATIO="0.25"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Store: %s\n", cfg.Store.Type)
package config
