package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
)

type receivedRequest struct {
	header http.Header
	body   []byte
}

// recorder is an endpoint that answers with the queued status codes, then 200
type recorder struct {
	mu       sync.Mutex
	statuses []int
	requests []receivedRequest
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	rec.mu.Lock()
	rec.requests = append(rec.requests, receivedRequest{header: r.Header.Clone(), body: body})
	status := http.StatusOK
	if len(rec.statuses) > 0 {
		status = rec.statuses[0]
		rec.statuses = rec.statuses[1:]
	}
	rec.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte("ack"))
}

func (rec *recorder) Requests() []receivedRequest {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]receivedRequest(nil), rec.requests...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestNotifier(t *testing.T, cfg Config) (*Notifier, *observability.Metrics, *fakeClock) {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	n := NewNotifier(cfg, log, metrics)
	n.now = clock.Now
	return n, metrics, clock
}

func testChange(from, to plans.PlanTier) entitlements.PlanChange {
	return entitlements.PlanChange{
		SubjectID: "acct-7",
		From:      from,
		To:        to,
		ChangedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		RequestID: "req-1",
	}
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventPlanUpgraded, EventTypeFor(plans.PlanFree, plans.PlanPro))
	assert.Equal(t, EventPlanDowngraded, EventTypeFor(plans.PlanEnterprise, plans.PlanBasic))
	assert.Equal(t, EventPlanRenewed, EventTypeFor(plans.PlanPro, plans.PlanPro))
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"plan.upgraded"}`)
	sig := Sign(payload, "secret")

	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "secret"))
}

func TestNotifier_DeliversSignedEvent(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n, metrics, _ := newTestNotifier(t, Config{URLs: []string{srv.URL}, Secret: "hook-secret"})

	err := n.PlanChanged(context.Background(), testChange(plans.PlanFree, plans.PlanPro))
	require.NoError(t, err)

	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]

	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, string(EventPlanUpgraded), req.header.Get(HeaderEvent))
	assert.True(t, VerifySignature(req.body, req.header.Get(HeaderSignature), "hook-secret"))

	var event Event
	require.NoError(t, json.Unmarshal(req.body, &event))
	assert.Equal(t, EventPlanUpgraded, event.Type)
	assert.Equal(t, req.header.Get(HeaderEventID), event.ID)
	assert.Equal(t, "acct-7", event.Data.SubjectID)
	assert.Equal(t, plans.PlanPro, event.Data.To)

	deliveries := n.Deliveries().BySubject("acct-7", 0)
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusSuccess, deliveries[0].Status)
	assert.Equal(t, http.StatusOK, deliveries[0].StatusCode)
	assert.Equal(t, "ack", deliveries[0].ResponseBody)
	assert.Equal(t, req.header.Get(HeaderDelivery), deliveries[0].ID)
	assert.NotNil(t, deliveries[0].CompletedAt)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("success")))
}

func TestNotifier_NoSecretNoSignature(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n, _, _ := newTestNotifier(t, Config{URLs: []string{srv.URL}})
	require.NoError(t, n.PlanChanged(context.Background(), testChange(plans.PlanPro, plans.PlanBasic)))

	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].header.Get(HeaderSignature))
	assert.Equal(t, string(EventPlanDowngraded), reqs[0].header.Get(HeaderEvent))
}

func TestNotifier_RetriesWithSamePayload(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusServiceUnavailable}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n, metrics, clock := newTestNotifier(t, Config{
		URLs:   []string{srv.URL},
		Secret: "hook-secret",
		Retry:  RetryConfig{MaxAttempts: 3, InitialDelay: time.Second},
	})

	err := n.PlanChanged(context.Background(), testChange(plans.PlanFree, plans.PlanBasic))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-2xx status: 503")

	deliveries := n.Deliveries().BySubject("acct-7", 0)
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusRetrying, deliveries[0].Status)
	require.NotNil(t, deliveries[0].NextRetryAt)

	// Not yet due
	require.NoError(t, n.RetryPending(context.Background()))
	assert.Len(t, rec.Requests(), 1)

	clock.Advance(time.Second)
	require.NoError(t, n.RetryPending(context.Background()))

	reqs := rec.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].body, reqs[1].body)
	assert.Equal(t, reqs[0].header.Get(HeaderSignature), reqs[1].header.Get(HeaderSignature))
	assert.Equal(t, reqs[0].header.Get(HeaderDelivery), reqs[1].header.Get(HeaderDelivery))

	delivery, ok := n.Deliveries().Get(deliveries[0].ID)
	require.True(t, ok)
	assert.Equal(t, DeliveryStatusSuccess, delivery.Status)
	assert.Equal(t, 2, delivery.Attempts)
	assert.Nil(t, delivery.NextRetryAt)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("retrying")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("success")))
}

func TestNotifier_AbandonsAfterMaxAttempts(t *testing.T) {
	rec := &recorder{statuses: []int{500, 500, 500}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n, metrics, clock := newTestNotifier(t, Config{
		URLs:  []string{srv.URL},
		Retry: RetryConfig{MaxAttempts: 2, InitialDelay: time.Second},
	})

	require.Error(t, n.PlanChanged(context.Background(), testChange(plans.PlanFree, plans.PlanPro)))
	clock.Advance(time.Minute)
	require.NoError(t, n.RetryPending(context.Background()))

	// Nothing left to retry
	clock.Advance(time.Hour)
	require.NoError(t, n.RetryPending(context.Background()))
	assert.Len(t, rec.Requests(), 2)

	deliveries := n.Deliveries().BySubject("acct-7", 0)
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusFailed, deliveries[0].Status)
	assert.Contains(t, deliveries[0].ErrorMessage, "max retries exceeded")
	assert.NotNil(t, deliveries[0].CompletedAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("failed")))
}

func TestNotifier_ClientErrorIsPermanent(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusGone}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n, _, clock := newTestNotifier(t, Config{URLs: []string{srv.URL}})

	require.Error(t, n.PlanChanged(context.Background(), testChange(plans.PlanFree, plans.PlanPro)))
	clock.Advance(time.Hour)
	require.NoError(t, n.RetryPending(context.Background()))
	assert.Len(t, rec.Requests(), 1)

	deliveries := n.Deliveries().BySubject("acct-7", 0)
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusFailed, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
	assert.Contains(t, deliveries[0].ErrorMessage, "rejected by endpoint")
}

func TestNotifier_EventFilter(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n, _, _ := newTestNotifier(t, Config{})
	n.AddEndpoint(Endpoint{URL: srv.URL, Events: []EventType{EventPlanDowngraded}})

	require.NoError(t, n.PlanChanged(context.Background(), testChange(plans.PlanFree, plans.PlanPro)))
	assert.Empty(t, rec.Requests())

	require.NoError(t, n.PlanChanged(context.Background(), testChange(plans.PlanPro, plans.PlanFree)))
	assert.Len(t, rec.Requests(), 1)
}

func TestNotifier_EndpointIDsStable(t *testing.T) {
	n, _, _ := newTestNotifier(t, Config{URLs: []string{"https://a.example.com", "https://b.example.com"}})
	again, _, _ := newTestNotifier(t, Config{URLs: []string{"https://a.example.com"}})

	eps := n.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "https://a.example.com", eps[0].URL)
	assert.Equal(t, eps[0].ID, again.Endpoints()[0].ID)
	assert.NotEqual(t, eps[0].ID, eps[1].ID)
}

func TestNotifier_AsPlanChangeObserver(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := subjects.NewMemoryStore()
	require.NoError(t, store.CreateSubject(context.Background(), &subjects.Record{ID: "acct-7", Plan: "free"}))

	log, _ := logtest.NewNullLogger()
	svc, err := entitlements.NewService(entitlements.NewEvaluator(plans.DefaultCatalog(), log, nil), store,
		entitlements.WithLogger(log))
	require.NoError(t, err)

	n, _, _ := newTestNotifier(t, Config{URLs: []string{srv.URL}})
	svc.Subscribe(n)

	subject, err := svc.LoadSubject(context.Background(), "acct-7")
	require.NoError(t, err)
	require.True(t, svc.ChangePlan(context.Background(), subject, plans.PlanBasic))

	// ChangePlan waits for observers, so the delivery already happened
	assert.Equal(t, int32(1), hits.Load())
	stats := n.Deliveries().Stats(n.Endpoints()[0].ID)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1.0, stats.SuccessRate)
}
