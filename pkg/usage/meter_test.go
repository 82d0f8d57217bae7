package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

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

type fixture struct {
	svc     *entitlements.Service
	store   *subjects.MemoryStore
	metrics *observability.Metrics
	meter   *Meter
}

func newFixture(t *testing.T, seed ...*subjects.Record) *fixture {
	t.Helper()
	ctx := context.Background()

	store := subjects.NewMemoryStore()
	for _, rec := range seed {
		require.NoError(t, store.CreateSubject(ctx, rec))
	}

	log, _ := logtest.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc, err := entitlements.NewService(entitlements.NewEvaluator(nil, log, metrics), store)
	require.NoError(t, err)

	return &fixture{
		svc:     svc,
		store:   store,
		metrics: metrics,
		meter:   NewMeter(svc, log, metrics),
	}
}

func TestMeter_Consume(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "free"})
	ctx := context.Background()

	subject, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	total, err := f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)

	total, err = f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
	assert.Equal(t, int64(0), f.meter.Remaining(subject, plans.FeatureMaxMonthlyCredits))

	total, err = f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 1)
	require.Error(t, err)
	assert.Equal(t, int64(100), total)

	var limitErr *entitlements.FeatureLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(100), limitErr.Usage)
	assert.Equal(t, int64(100), limitErr.Limit)
	assert.Equal(t, plans.PlanBasic, limitErr.RequiredTier)

	rec, err := f.store.GetSubject(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.Usage[plans.FeatureMaxMonthlyCredits])

	assert.Equal(t, float64(100), testutil.ToFloat64(
		f.metrics.UsageConsumedTotal.WithLabelValues(string(plans.FeatureMaxMonthlyCredits))))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		f.metrics.UsageRejectedTotal.WithLabelValues(string(plans.FeatureMaxMonthlyCredits))))
}

func TestMeter_RejectsWholeRequest(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "basic"})
	ctx := context.Background()

	subject, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	// 3 accounts allowed: asking for 4 at once fails without consuming any
	_, err = f.meter.Consume(ctx, subject, plans.FeatureMaxSocialAccounts, 4)
	assert.True(t, entitlements.IsFeatureLimitExceeded(err))
	assert.Equal(t, int64(0), subject.Usage(plans.FeatureMaxSocialAccounts))

	total, err := f.meter.Consume(ctx, subject, plans.FeatureMaxSocialAccounts, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestMeter_Unlimited(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "enterprise"})
	ctx := context.Background()

	subject, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	total, err := f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), total)
	assert.Equal(t, plans.Unlimited, f.meter.Remaining(subject, plans.FeatureMaxMonthlyCredits))
}

func TestMeter_InvalidRequests(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "pro"})
	ctx := context.Background()

	subject, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	_, err = f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 0)
	assert.Error(t, err)

	_, err = f.meter.Consume(ctx, subject, plans.FeatureAPIAccess, 1)
	assert.True(t, errors.Is(err, ErrNotMetered))

	_, err = f.meter.Consume(ctx, subject, plans.FeatureKey("maxRockets"), 1)
	assert.True(t, errors.Is(err, ErrNotMetered))
}

func TestMeter_ConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "free"})
	ctx := context.Background()

	subject, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.meter.Consume(ctx, subject, plans.FeatureMaxTrackedKeywords, 1); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, int64(5), subject.Usage(plans.FeatureMaxTrackedKeywords))
}

func TestMeter_HugeRequestFailsClosed(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "free", Usage: map[plans.FeatureKey]int64{
		plans.FeatureMaxMonthlyCredits: 5,
	}})
	ctx := context.Background()

	subject, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	total, err := f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, math.MaxInt64)
	require.True(t, entitlements.IsFeatureLimitExceeded(err), "err = %v", err)
	assert.Equal(t, int64(5), total)

	var limitErr *entitlements.FeatureLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(5), limitErr.Usage)

	rec, err := f.store.GetSubject(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Usage[plans.FeatureMaxMonthlyCredits])
	assert.True(t, f.svc.CanUseFeature(subject.Tier(), plans.FeatureMaxMonthlyCredits, subject.Usage(plans.FeatureMaxMonthlyCredits)))

	total, err = f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 95)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
	_, err = f.meter.Consume(ctx, subject, plans.FeatureMaxMonthlyCredits, 1)
	assert.True(t, entitlements.IsFeatureLimitExceeded(err))
}

func TestMeter_InstancesSharingStoreShareTheLimit(t *testing.T) {
	f := newFixture(t, &subjects.Record{ID: "u1", Plan: "free"})
	ctx := context.Background()

	// a second process over the same store with its own subject cache
	log, _ := logtest.NewNullLogger()
	other, err := entitlements.NewService(entitlements.NewEvaluator(nil, log, nil), f.store)
	require.NoError(t, err)
	otherMeter := NewMeter(other, log, nil)

	a, err := f.svc.LoadSubject(ctx, "u1")
	require.NoError(t, err)
	b, err := other.LoadSubject(ctx, "u1")
	require.NoError(t, err)

	total, err := f.meter.Consume(ctx, a, plans.FeatureMaxMonthlyCredits, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	// b still believes nothing is used
	total, err = otherMeter.Consume(ctx, b, plans.FeatureMaxMonthlyCredits, 100)
	require.True(t, entitlements.IsFeatureLimitExceeded(err), "err = %v", err)
	assert.Equal(t, int64(100), total)
	assert.Equal(t, int64(100), b.Usage(plans.FeatureMaxMonthlyCredits))

	rec, err := f.store.GetSubject(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.Usage[plans.FeatureMaxMonthlyCredits])
}

func TestLastUnit(t *testing.T) {
	assert.Equal(t, int64(14), lastUnit(5, 10, 100, false))
	assert.Equal(t, int64(100), lastUnit(5, math.MaxInt64, 100, false))
	assert.Equal(t, int64(120), lastUnit(120, 1, 100, false))
	assert.Equal(t, int64(7), lastUnit(7, math.MaxInt64, plans.Unlimited, true))
}
