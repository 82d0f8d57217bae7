package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/repwatch/pkg/audit"
	"github.com/platinummonkey/repwatch/pkg/broadcast"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/usage"
	"github.com/platinummonkey/repwatch/pkg/webhooks"
)

// Store types
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Audit sink types
const (
	AuditNone = "none"
	AuditFile = "file"
	AuditS3   = "s3"
	AuditBoth = "both"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Subject store configuration
	Store StoreConfig

	// Redis for cross-instance broadcast and shared rate limits; empty URL disables both
	Redis broadcast.RedisConfig

	// Plan catalog and entitlement service settings
	Entitlements EntitlementsConfig

	// Audit trail configuration
	Audit AuditConfig

	// Plan change webhooks; no URLs disables delivery
	Webhooks WebhookConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects and configures the subject store
type StoreConfig struct {
	Type            string
	SQLitePath      string
	PostgresURL     string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// EntitlementsConfig holds catalog and plan change settings
type EntitlementsConfig struct {
	// CatalogFile overrides the built-in plan catalog with a YAML file
	CatalogFile       string
	SessionCacheSize  int
	NotifyConcurrency int
	UsageResetCron    string
}

// AuditConfig selects where plan change audit events go
type AuditConfig struct {
	Sink string
	File audit.FileSinkConfig
	S3   audit.S3Config
}

// WebhookConfig configures outbound plan change webhooks
type WebhookConfig struct {
	webhooks.Config
	RetryInterval time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled  bool
	DBStatsInterval time.Duration

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelEnvironment    string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Redis:         loadRedisConfig(),
		Entitlements:  loadEntitlementsConfig(),
		Audit:         loadAuditConfig(),
		Webhooks:      loadWebhookConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("REPWATCH_HOST", "0.0.0.0"),
		Port:            getEnv("REPWATCH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("REPWATCH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("REPWATCH_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("REPWATCH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("REPWATCH_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadStoreConfig loads subject store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:            strings.ToLower(getEnv("REPWATCH_STORE_TYPE", StoreMemory)),
		SQLitePath:      getEnv("REPWATCH_SQLITE_PATH", "repwatch.db"),
		PostgresURL:     getEnv("REPWATCH_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("REPWATCH_DB_MAX_OPEN_CONNS", 20),
		ConnMaxLifetime: getEnvDuration("REPWATCH_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() broadcast.RedisConfig {
	return broadcast.RedisConfig{
		URL:        getEnv("REPWATCH_REDIS_URL", ""),
		Password:   getEnv("REPWATCH_REDIS_PASSWORD", ""),
		DB:         getEnvInt("REPWATCH_REDIS_DB", 0),
		MaxRetries: getEnvInt("REPWATCH_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("REPWATCH_REDIS_POOL_SIZE", 10),
	}
}

// loadEntitlementsConfig loads catalog and service settings from environment
func loadEntitlementsConfig() EntitlementsConfig {
	return EntitlementsConfig{
		CatalogFile:       getEnv("REPWATCH_CATALOG_FILE", ""),
		SessionCacheSize:  getEnvInt("REPWATCH_SESSION_CACHE_SIZE", 10000),
		NotifyConcurrency: getEnvInt("REPWATCH_NOTIFY_CONCURRENCY", 8),
		UsageResetCron:    getEnv("REPWATCH_USAGE_RESET_CRON", usage.DefaultResetSchedule),
	}
}

// loadAuditConfig loads audit sink configuration from environment
func loadAuditConfig() AuditConfig {
	file := audit.DefaultFileSinkConfig()
	if dir := getEnv("REPWATCH_AUDIT_DIR", ""); dir != "" {
		file.BasePath = dir
	}
	if maxSize := getEnvInt64("REPWATCH_AUDIT_MAX_SIZE", 0); maxSize > 0 {
		file.MaxSize = maxSize
	}
	if maxFiles := getEnvInt("REPWATCH_AUDIT_MAX_FILES", 0); maxFiles > 0 {
		file.MaxFiles = maxFiles
	}

	return AuditConfig{
		Sink: strings.ToLower(getEnv("REPWATCH_AUDIT_SINK", AuditNone)),
		File: file,
		S3: audit.S3Config{
			Bucket:       getEnv("REPWATCH_AUDIT_S3_BUCKET", ""),
			Region:       getEnv("REPWATCH_AUDIT_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("REPWATCH_AUDIT_S3_ENDPOINT", ""),
			AccessKey:    getEnv("REPWATCH_AUDIT_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("REPWATCH_AUDIT_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("REPWATCH_AUDIT_S3_USE_PATH_STYLE", false),
			Prefix:       getEnv("REPWATCH_AUDIT_S3_PREFIX", ""),
		},
	}
}

// loadWebhookConfig loads webhook configuration from environment
func loadWebhookConfig() WebhookConfig {
	retry := webhooks.DefaultRetryConfig()
	retry.MaxAttempts = getEnvInt("REPWATCH_WEBHOOK_MAX_ATTEMPTS", retry.MaxAttempts)

	return WebhookConfig{
		Config: webhooks.Config{
			URLs:    splitList(getEnv("REPWATCH_WEBHOOK_URLS", "")),
			Secret:  getEnv("REPWATCH_WEBHOOK_SECRET", ""),
			Timeout: getEnvDuration("REPWATCH_WEBHOOK_TIMEOUT", 10*time.Second),
			Retry:   retry,
		},
		RetryInterval: getEnvDuration("REPWATCH_WEBHOOK_RETRY_INTERVAL", 30*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("REPWATCH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("REPWATCH_METRICS_ENABLED", true),
		DBStatsInterval:    getEnvDuration("REPWATCH_DB_STATS_INTERVAL", 15*time.Second),
		OTelEnabled:        getEnvBool("REPWATCH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("REPWATCH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("REPWATCH_OTEL_SERVICE_NAME", "repwatch"),
		OTelServiceVersion: getEnv("REPWATCH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelEnvironment:    getEnv("REPWATCH_ENVIRONMENT", ""),
		OTelInsecure:       getEnvBool("REPWATCH_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("REPWATCH_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	// Validate store config based on type
	switch c.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, sqlite, or postgres)", c.Store.Type)
	}

	// Validate entitlement settings
	if c.Entitlements.SessionCacheSize <= 0 {
		return fmt.Errorf("session cache size must be positive")
	}
	if c.Entitlements.NotifyConcurrency <= 0 {
		return fmt.Errorf("notify concurrency must be positive")
	}
	if _, err := cron.ParseStandard(c.Entitlements.UsageResetCron); err != nil {
		return fmt.Errorf("invalid usage reset schedule %q: %w", c.Entitlements.UsageResetCron, err)
	}

	// Validate audit config
	switch c.Audit.Sink {
	case AuditNone:
	case AuditFile:
		if c.Audit.File.BasePath == "" {
			return fmt.Errorf("audit directory is required for file audit sink")
		}
	case AuditS3:
		if c.Audit.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 audit sink")
		}
	case AuditBoth:
		if c.Audit.File.BasePath == "" || c.Audit.S3.Bucket == "" {
			return fmt.Errorf("audit directory and S3 bucket are both required for the both audit sink")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be none, file, s3, or both)", c.Audit.Sink)
	}

	// Validate webhook config
	if len(c.Webhooks.URLs) > 0 {
		for _, u := range c.Webhooks.URLs {
			if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				return fmt.Errorf("invalid webhook URL %q: must be http or https", u)
			}
		}
		if c.Webhooks.RetryInterval <= 0 {
			return fmt.Errorf("webhook retry interval must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
