package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementChecksTotal *prometheus.CounterVec
	UpgradeFallbacksTotal  *prometheus.CounterVec

	// Plan change metrics
	PlanChangesTotal    *prometheus.CounterVec
	PlanChangeDuration  *prometheus.HistogramVec
	ObserverErrorsTotal *prometheus.CounterVec

	// Session cache metrics
	SessionCacheLookupsTotal *prometheus.CounterVec

	// Usage metrics
	UsageConsumedTotal *prometheus.CounterVec
	UsageRejectedTotal *prometheus.CounterVec
	UsageResetsTotal   *prometheus.CounterVec

	// Fan-out metrics
	BroadcastEventsTotal   *prometheus.CounterVec
	AuditEventsTotal       *prometheus.CounterVec
	WebhookDeliveriesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repwatch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EntitlementChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_entitlement_checks_total",
				Help: "Total number of gated entitlement checks",
			},
			[]string{"feature", "result"},
		),
		UpgradeFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_upgrade_fallbacks_total",
				Help: "Upgrade lookups where no tier granted the feature",
			},
			[]string{"feature"},
		),

		PlanChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_plan_changes_total",
				Help: "Total number of plan change attempts",
			},
			[]string{"from", "to", "result"},
		),
		PlanChangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repwatch_plan_change_duration_seconds",
				Help:    "Plan change duration including persistence and notification",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		ObserverErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_plan_observer_errors_total",
				Help: "Plan change notifications that failed or panicked in an observer",
			},
			[]string{"reason"},
		),

		SessionCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_session_cache_lookups_total",
				Help: "Subject session cache lookups",
			},
			[]string{"result"},
		),

		UsageConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_usage_consumed_total",
				Help: "Units of metered features consumed",
			},
			[]string{"feature"},
		),
		UsageRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_usage_rejected_total",
				Help: "Consumption attempts rejected by plan limits",
			},
			[]string{"feature"},
		),
		UsageResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_usage_resets_total",
				Help: "Scheduled usage counter resets",
			},
			[]string{"status"},
		),

		BroadcastEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_broadcast_events_total",
				Help: "Plan change events exchanged with other instances",
			},
			[]string{"direction"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_audit_events_total",
				Help: "Plan change audit events written",
			},
			[]string{"sink", "status"},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repwatch_webhook_deliveries_total",
				Help: "Plan change webhook delivery attempts",
			},
			[]string{"status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repwatch_db_connections_active",
				Help: "Number of in-use database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "repwatch_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EntitlementChecksTotal,
		m.UpgradeFallbacksTotal,
		m.PlanChangesTotal,
		m.PlanChangeDuration,
		m.ObserverErrorsTotal,
		m.SessionCacheLookupsTotal,
		m.UsageConsumedTotal,
		m.UsageRejectedTotal,
		m.UsageResetsTotal,
		m.BroadcastEventsTotal,
		m.AuditEventsTotal,
		m.WebhookDeliveriesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// The record helpers below accept a nil receiver so components can run
// without metrics wired in.

// RecordEntitlementCheck counts a gated check
func (m *Metrics) RecordEntitlementCheck(feature string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.EntitlementChecksTotal.WithLabelValues(feature, result).Inc()
}

// RecordUpgradeFallback counts an upgrade lookup that hit the enterprise fallback
func (m *Metrics) RecordUpgradeFallback(feature string) {
	if m == nil {
		return
	}
	m.UpgradeFallbacksTotal.WithLabelValues(feature).Inc()
}

// RecordPlanChange records the outcome of a plan change
func (m *Metrics) RecordPlanChange(from, to, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PlanChangesTotal.WithLabelValues(from, to, result).Inc()
	m.PlanChangeDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordObserverError counts a failed notification delivery
func (m *Metrics) RecordObserverError(reason string) {
	if m == nil {
		return
	}
	m.ObserverErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordSessionLookup counts a session cache hit or miss
func (m *Metrics) RecordSessionLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SessionCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordUsage records consumed or rejected units of a metered feature
func (m *Metrics) RecordUsage(feature string, units int64, rejected bool) {
	if m == nil {
		return
	}
	if rejected {
		m.UsageRejectedTotal.WithLabelValues(feature).Inc()
		return
	}
	m.UsageConsumedTotal.WithLabelValues(feature).Add(float64(units))
}

// RecordUsageReset records a scheduled reset run
func (m *Metrics) RecordUsageReset(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.UsageResetsTotal.WithLabelValues(status).Inc()
}

// RecordBroadcast counts published, received, and skipped plan change events
func (m *Metrics) RecordBroadcast(direction string) {
	if m == nil {
		return
	}
	m.BroadcastEventsTotal.WithLabelValues(direction).Inc()
}

// RecordAudit counts audit writes per sink
func (m *Metrics) RecordAudit(sink string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.AuditEventsTotal.WithLabelValues(sink, status).Inc()
}

// RecordWebhookDelivery counts a webhook delivery attempt by outcome
func (m *Metrics) RecordWebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labeled by their mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
