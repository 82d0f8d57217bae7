// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown.
//
// # Structured Logging
//
// Domain services log through logrus:
//
//	log := observability.NewLogrus(observability.InfoLevel, os.Stdout)
//	log.WithField("subject_id", id).Info("plan changed")
//
// HTTP request logging uses a slog JSON logger carried in the request context:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	router.Use(observability.RequestLoggingMiddleware(logger))
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordPlanChange("free", "pro", "success", elapsed)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Every Record* helper accepts a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.RegisterRoutes(router)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/entitlements: Plan change metrics and spans
package observability
