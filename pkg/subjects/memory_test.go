package subjects

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.CreateSubject(ctx, &Record{
		ID:    "user-1",
		Plan:  "basic",
		Usage: map[plans.FeatureKey]int64{plans.FeatureMaxSocialAccounts: 2},
	})
	require.NoError(t, err)

	rec, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "basic", rec.Plan)
	assert.Equal(t, int64(2), rec.Usage[plans.FeatureMaxSocialAccounts])
	assert.False(t, rec.UpdatedAt.IsZero())

	// Returned records are copies
	rec.Usage[plans.FeatureMaxSocialAccounts] = 99
	again, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Usage[plans.FeatureMaxSocialAccounts])
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "user-1"}))
	assert.ErrorIs(t, store.CreateSubject(ctx, &Record{ID: "user-1"}), ErrSubjectExists)
	assert.Error(t, store.CreateSubject(ctx, &Record{}))
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	_, err := NewMemoryStore().GetSubject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestMemoryStore_PersistPlanChange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "user-1", Plan: "free"}))

	require.NoError(t, store.PersistPlanChange(ctx, "user-1", plans.PlanPro))
	rec, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", rec.Plan)

	assert.ErrorIs(t, store.PersistPlanChange(ctx, "missing", plans.PlanPro), ErrSubjectNotFound)
}

func TestMemoryStore_PersistPlanChangeCancelled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "user-1", Plan: "free"}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.PersistPlanChange(cancelled, "user-1", plans.PlanPro), context.Canceled)

	rec, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "free", rec.Plan)
}

func TestMemoryStore_Usage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "a"}))
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "b"}))

	total, err := store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, 10, plans.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	total, err = store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, 5, plans.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)

	_, err = store.IncrementUsage(ctx, "b", plans.FeatureMaxMonthlyCredits, 3, plans.Unlimited)
	require.NoError(t, err)
	_, err = store.IncrementUsage(ctx, "b", plans.FeatureMaxSocialAccounts, 1, plans.Unlimited)
	require.NoError(t, err)

	_, err = store.IncrementUsage(ctx, "missing", plans.FeatureMaxMonthlyCredits, 1, plans.Unlimited)
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	// capped: 15 used, limit 20
	total, err = store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, 6, 20)
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, int64(15), total)
	total, err = store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, 5, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)

	reset, err := store.ResetUsage(ctx, []plans.FeatureKey{plans.FeatureMaxMonthlyCredits})
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	rec, err := store.GetSubject(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Usage[plans.FeatureMaxMonthlyCredits])
	assert.Equal(t, int64(1), rec.Usage[plans.FeatureMaxSocialAccounts])
}

func TestMemoryStore_IncrementUsageNeverOverflows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "a", Usage: map[plans.FeatureKey]int64{
		plans.FeatureMaxMonthlyCredits: 5,
	}}))

	total, err := store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, math.MaxInt64, 100)
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, int64(5), total)

	// unlimited still refuses to wrap around
	total, err = store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, math.MaxInt64, plans.Unlimited)
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, int64(5), total)

	total, err = store.IncrementUsage(ctx, "a", plans.FeatureMaxMonthlyCredits, math.MaxInt64-5, plans.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), total)
}
