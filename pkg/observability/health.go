package observability

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/repwatch/pkg/httputil"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds a single /health/ready request
const readinessTimeout = 5 * time.Second

// CheckFunc probes one dependency; a non-nil error marks it unhealthy
type CheckFunc func(ctx context.Context) error

type probe struct {
	name     string
	required bool
	check    CheckFunc
}

// HealthChecker reports liveness and dependency readiness. A failing
// required probe makes the service unhealthy; an optional one only
// degrades it.
type HealthChecker struct {
	probes []probe
}

// NewHealthChecker registers probes for the subject store and Redis.
// Either dependency may be nil. Redis only carries cross-instance
// notifications, so it is optional.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	h := &HealthChecker{}
	if db != nil {
		h.AddCheck("database", true, func(ctx context.Context) error {
			var one int
			if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				return fmt.Errorf("query failed: %w", err)
			}
			return nil
		})
	}
	if redisClient != nil {
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return h
}

// AddCheck registers a named probe. Not safe to call once serving.
func (h *HealthChecker) AddCheck(name string, required bool, check CheckFunc) {
	h.probes = append(h.probes, probe{name: name, required: required, check: check})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Check runs every probe concurrently and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      buildVersion(),
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range h.probes {
		g.Go(func() error {
			dep := runProbe(ctx, p.check)

			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[p.name] = dep
			if dep.Status != StatusUnhealthy {
				return nil
			}
			switch {
			case p.required:
				status.Status = StatusUnhealthy
			case status.Status == StatusHealthy:
				status.Status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()

	return status
}

func runProbe(ctx context.Context, check CheckFunc) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: start}
	err := check(ctx)
	dep.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

// Liveness always reports healthy while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, map[string]any{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a required dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

// RegisterRoutes mounts /health/live and /health/ready
func (h *HealthChecker) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "devel"
	}
	return info.Main.Version
}
