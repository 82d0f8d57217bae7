package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repwatch/pkg/async"
	"github.com/platinummonkey/repwatch/pkg/contextkeys"
	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
)

func newTestService(t *testing.T, records ...*subjects.Record) *entitlements.Service {
	t.Helper()
	store := subjects.NewMemoryStore()
	for _, rec := range records {
		require.NoError(t, store.CreateSubject(context.Background(), rec))
	}
	svc, err := entitlements.NewService(entitlements.NewEvaluator(nil, nil, nil), store)
	require.NoError(t, err)
	return svc
}

type errorBody struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSubjectContext(t *testing.T) {
	svc := newTestService(t, &subjects.Record{ID: "acme", Plan: "pro"})
	m := NewEntitlementMiddleware(svc, nil)

	t.Run("loads subject", func(t *testing.T) {
		var seen *entitlements.Subject
		handler := m.SubjectContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = SubjectFromContext(r.Context())
			assert.Equal(t, "acme", contextkeys.GetSubjectID(r.Context()))
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(SubjectIDHeader, "acme")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NotNil(t, seen)
		assert.Equal(t, plans.PlanPro, seen.Tier())
	})

	t.Run("no header passes through", func(t *testing.T) {
		called := false
		handler := m.SubjectContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			_, ok := SubjectFromContext(r.Context())
			assert.False(t, ok)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, called)
	})

	t.Run("unknown subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(SubjectIDHeader, "ghost")
		rec := httptest.NewRecorder()

		m.SubjectContext(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireFeature(t *testing.T) {
	svc := newTestService(t,
		&subjects.Record{ID: "free-co", Plan: "free"},
		&subjects.Record{ID: "pro-co", Plan: "pro"},
		&subjects.Record{ID: "capped", Plan: "basic", Usage: map[plans.FeatureKey]int64{
			plans.FeatureMaxTrackedKeywords: 50,
		}},
	)
	m := NewEntitlementMiddleware(svc, nil)

	serve := func(id string, key plans.FeatureKey) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if id != "" {
			req.Header.Set(SubjectIDHeader, id)
		}
		rec := httptest.NewRecorder()
		m.SubjectContext(m.RequireFeature(key)(okHandler)).ServeHTTP(rec, req)
		return rec
	}

	t.Run("granted", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve("pro-co", plans.FeatureAPIAccess).Code)
	})

	t.Run("missing subject", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("", plans.FeatureAPIAccess).Code)
	})

	t.Run("not on plan", func(t *testing.T) {
		rec := serve("free-co", plans.FeatureAPIAccess)
		require.Equal(t, http.StatusForbidden, rec.Code)

		body := decodeError(t, rec)
		assert.Equal(t, "pro", body.Details["required_tier"])
		assert.Equal(t, "free", body.Details["tier"])
		assert.Contains(t, body.Details["message"], "Upgrade to Pro")
	})

	t.Run("at cap", func(t *testing.T) {
		limit := svc.FeatureLimit(plans.PlanBasic, plans.FeatureMaxTrackedKeywords)
		subject, err := svc.LoadSubject(context.Background(), "capped")
		require.NoError(t, err)
		subject.SetUsage(plans.FeatureMaxTrackedKeywords, limit)

		rec := serve("capped", plans.FeatureMaxTrackedKeywords)
		require.Equal(t, http.StatusForbidden, rec.Code)

		body := decodeError(t, rec)
		assert.EqualValues(t, limit, body.Details["limit"])
		assert.Contains(t, body.Details["message"], "limit reached")
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour, BurstSize: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}
	allowed, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"ip:a", "ip:b", "subject:c"} {
		_, err := rl.Allow(ctx, key)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, rl.Len())

	now = now.Add(90 * time.Second)
	_, err := rl.Allow(ctx, "ip:a")
	require.NoError(t, err)
	assert.Equal(t, 0, rl.Cleanup())

	now = now.Add(90 * time.Second)
	assert.Equal(t, 2, rl.Cleanup())
	assert.Equal(t, 1, rl.Len())

	// a removed key starts over with a full bucket
	remaining, err := rl.Remaining(ctx, "ip:b")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRateLimitMiddleware_ScheduledCleanup(t *testing.T) {
	local := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 5 * time.Millisecond})
	m := newRateLimitMiddleware(map[plans.PlanTier]Limiter{plans.PlanFree: local}, NewRateLimiter(nil), nil)
	assert.Equal(t, 2*time.Minute, m.CleanupInterval())

	handler := m.Handler(okHandler)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", ip)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	anon := m.anonymous.(*RateLimiter)
	require.Equal(t, 2, anon.Len())

	_, err := local.Allow(context.Background(), "subject:x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log, _ := logtest.NewNullLogger()
	go async.Every(ctx, log, 5*time.Millisecond, "ratelimit-cleanup", m.Cleanup)

	assert.Eventually(t, func() bool { return local.Len() == 0 }, time.Second, 5*time.Millisecond)
	// anonymous buckets are still inside their one minute window
	assert.Equal(t, 2, anon.Len())
}

func TestRateLimitMiddleware_DistributedNeedsNoCleanup(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := NewDistributedRateLimitMiddleware(client, nil)
	assert.Zero(t, m.CleanupInterval())
	assert.NoError(t, m.Cleanup(context.Background()))
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.True(t, mr.TTL("test:k") > 0)

	mr.FastForward(time.Minute + time.Second)
	allowed, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware_PerTier(t *testing.T) {
	svc := newTestService(t,
		&subjects.Record{ID: "free-co", Plan: "free"},
		&subjects.Record{ID: "ent-co", Plan: "enterprise"},
	)
	ent := NewEntitlementMiddleware(svc, nil)
	rl := NewRateLimitMiddleware(nil)
	handler := ent.SubjectContext(rl.Handler(okHandler))

	serve := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(SubjectIDHeader, id)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	free := TierRateLimitConfigs()[plans.PlanFree]
	for i := 0; i < free.RequestsPerWindow+free.BurstSize; i++ {
		require.Equal(t, http.StatusOK, serve("free-co").Code)
	}

	rec := serve("free-co")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Enterprise has its own, larger bucket
	rec = serve("ent-co")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5000", rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	log, hook := logtest.NewNullLogger()
	rl := NewDistributedRateLimitMiddleware(client, log)
	mr.Close()

	rec := httptest.NewRecorder()
	rl.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	rl.SetFailOpen(false)
	rec = httptest.NewRecorder()
	rl.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
