package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/repwatch/pkg/api"
	"github.com/platinummonkey/repwatch/pkg/async"
	"github.com/platinummonkey/repwatch/pkg/audit"
	"github.com/platinummonkey/repwatch/pkg/broadcast"
	"github.com/platinummonkey/repwatch/pkg/config"
	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/middleware"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
	"github.com/platinummonkey/repwatch/pkg/usage"
	"github.com/platinummonkey/repwatch/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogrus(cfg.Observability.LogLevel, os.Stdout)
	httpLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, log, httpLogger); err != nil {
		log.WithError(err).Fatal("repwatch exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger, httpLogger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Environment:    cfg.Observability.OTelEnvironment,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, httpLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Catalog
	catalog, err := plans.LoadCatalogFile(cfg.Entitlements.CatalogFile)
	if err != nil {
		return err
	}
	if cfg.Entitlements.CatalogFile != "" {
		log.WithField("file", cfg.Entitlements.CatalogFile).Info("Loaded plan catalog")
	}

	// Subject store
	store, db, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	log.WithField("type", cfg.Store.Type).Info("Subject store initialized")

	svc, err := entitlements.NewService(
		entitlements.NewEvaluator(catalog, log, metrics),
		store,
		entitlements.WithLogger(log),
		entitlements.WithMetrics(metrics),
		entitlements.WithSessionCacheSize(cfg.Entitlements.SessionCacheSize),
		entitlements.WithNotifyConcurrency(cfg.Entitlements.NotifyConcurrency),
	)
	if err != nil {
		return fmt.Errorf("failed to create entitlement service: %w", err)
	}

	// Cross-instance broadcast and shared rate limits
	var redisClient *redis.Client
	var listener *broadcast.Listener
	var limiter *middleware.RateLimitMiddleware
	if cfg.Redis.URL != "" {
		redisClient, err = broadcast.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}

		instance := uuid.NewString()
		svc.Subscribe(broadcast.NewPublisher(redisClient, broadcast.DefaultChannel, instance, log, metrics))

		listener = broadcast.NewListener(redisClient, broadcast.DefaultChannel, instance,
			func(ctx context.Context, change entitlements.PlanChange) {
				svc.Invalidate(change.SubjectID)
			}, log, metrics)
		go async.Supervise(ctx, log, "plan-change-listener", async.DefaultBackoff, listener.Run)

		limiter = middleware.NewDistributedRateLimitMiddleware(redisClient, log)
		log.WithField("instance", instance).Info("Plan change broadcast enabled")
	} else {
		limiter = middleware.NewRateLimitMiddleware(log)
	}
	if interval := limiter.CleanupInterval(); interval > 0 {
		go async.Every(ctx, log, interval, "ratelimit-cleanup", limiter.Cleanup)
	}

	// Audit trail
	sink, err := openAuditSink(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	if sink != nil {
		svc.Subscribe(audit.NewRecorder(sink, cfg.Audit.Sink, log, metrics))
		log.WithField("sink", cfg.Audit.Sink).Info("Plan change audit enabled")
	}

	// Outbound webhooks
	if len(cfg.Webhooks.URLs) > 0 {
		notifier := webhooks.NewNotifier(cfg.Webhooks.Config, log, metrics)
		svc.Subscribe(notifier)
		go async.Every(ctx, log, cfg.Webhooks.RetryInterval, "webhook-retries", notifier.RetryPending)
		log.WithField("endpoints", len(cfg.Webhooks.URLs)).Info("Plan change webhooks enabled")
	}

	// Usage metering and monthly resets
	meter := usage.NewMeter(svc, log, metrics)
	resetter, err := usage.NewResetter(svc, cfg.Entitlements.UsageResetCron, log, metrics)
	if err != nil {
		return err
	}
	resetter.Start()

	// HTTP
	server := api.NewServer(svc, meter, limiter, log)
	router := server.Router()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(observability.RequestLoggingMiddleware(httpLogger))
	health := observability.NewHealthChecker(db, redisClient)
	if listener != nil {
		health.AddCheck("broadcast", false, func(context.Context) error {
			select {
			case <-listener.Ready():
				return nil
			default:
				return errors.New("plan change subscription not confirmed")
			}
		})
	}
	server.RegisterRoutes(health)
	if metrics != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}

	if db != nil && metrics != nil {
		go async.Every(ctx, log, cfg.Observability.DBStatsInterval, "db-stats", func(ctx context.Context) error {
			metrics.UpdateDBStats(db)
			return nil
		})
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "repwatch"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Cleanups run in reverse registration order
	shutdown := observability.NewShutdownManager(httpLogger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("opentelemetry", providers.Shutdown)
	if db != nil {
		shutdown.Register("database", func(context.Context) error { return db.Close() })
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if sink != nil {
		shutdown.Register("audit sink", func(context.Context) error { return sink.Close() })
	}
	shutdown.Register("usage resetter", resetter.Stop)
	shutdown.Register("background tasks", func(context.Context) error {
		cancel()
		return nil
	})

	go func() {
		log.WithField("addr", httpServer.Addr).Info("Starting repwatch server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			shutdown.Shutdown(context.Background())
			os.Exit(1)
		}
	}()

	return shutdown.WaitForSignal()
}

// openStore builds the configured subject store. The returned DB is nil for
// the memory store.
func openStore(ctx context.Context, cfg config.StoreConfig) (subjects.Store, *sql.DB, error) {
	conn := subjects.ConnectionConfig{
		MaxConns:    cfg.MaxOpenConns,
		MaxLifetime: cfg.ConnMaxLifetime,
	}

	switch cfg.Type {
	case config.StoreSQLite:
		conn.Driver, conn.DSN = subjects.DriverSQLite, cfg.SQLitePath
	case config.StorePostgres:
		conn.Driver, conn.DSN = subjects.DriverPostgres, cfg.PostgresURL
	default:
		return subjects.NewMemoryStore(), nil, nil
	}

	db, err := subjects.Open(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	store := subjects.NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// openAuditSink builds the configured audit sink, or nil when auditing is off
func openAuditSink(ctx context.Context, cfg config.AuditConfig) (audit.Sink, error) {
	switch cfg.Sink {
	case config.AuditFile:
		return audit.NewFileSink(cfg.File)
	case config.AuditS3:
		return openS3Sink(ctx, cfg.S3)
	case config.AuditBoth:
		file, err := audit.NewFileSink(cfg.File)
		if err != nil {
			return nil, err
		}
		remote, err := openS3Sink(ctx, cfg.S3)
		if err != nil {
			file.Close()
			return nil, err
		}
		return audit.NewMultiSink(file, remote), nil
	default:
		return nil, nil
	}
}

func openS3Sink(ctx context.Context, cfg audit.S3Config) (*audit.S3Sink, error) {
	client, err := audit.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return audit.NewS3Sink(client, cfg.Bucket, cfg.Prefix)
}
