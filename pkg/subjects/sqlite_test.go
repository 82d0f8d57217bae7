package subjects

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

func setupTestDB(t *testing.T) *SQLStore {
	db, err := Open(context.Background(), ConnectionConfig{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	err := store.CreateSubject(ctx, &Record{
		ID:    "user-1",
		Plan:  "basic",
		Usage: map[plans.FeatureKey]int64{plans.FeatureMaxTrackedKeywords: 12},
	})
	require.NoError(t, err)

	rec, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "basic", rec.Plan)
	assert.Equal(t, int64(12), rec.Usage[plans.FeatureMaxTrackedKeywords])

	require.NoError(t, store.PersistPlanChange(ctx, "user-1", plans.PlanPro))
	rec, err = store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", rec.Plan)

	assert.ErrorIs(t, store.PersistPlanChange(ctx, "missing", plans.PlanPro), ErrSubjectNotFound)
	_, err = store.GetSubject(ctx, "missing")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestSQLStore_SQLiteUsage(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "user-1"}))
	assert.ErrorIs(t, store.CreateSubject(ctx, &Record{ID: "user-1"}), ErrSubjectExists)

	// a first use larger than the cap never creates the row
	total, err := store.IncrementUsage(ctx, "user-1", plans.FeatureMaxMonthlyCredits, 101, 100)
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, int64(0), total)

	total, err = store.IncrementUsage(ctx, "user-1", plans.FeatureMaxMonthlyCredits, 40, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)

	total, err = store.IncrementUsage(ctx, "user-1", plans.FeatureMaxMonthlyCredits, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)

	total, err = store.IncrementUsage(ctx, "user-1", plans.FeatureMaxMonthlyCredits, math.MaxInt64, 100)
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, int64(42), total)

	_, err = store.IncrementUsage(ctx, "user-1", plans.FeatureMaxSocialAccounts, 1, plans.Unlimited)
	require.NoError(t, err)

	n, err := store.ResetUsage(ctx, []plans.FeatureKey{plans.FeatureMaxMonthlyCredits})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Usage[plans.FeatureMaxMonthlyCredits])
	assert.Equal(t, int64(1), rec.Usage[plans.FeatureMaxSocialAccounts])
}

func TestOpen_SQLiteFilePersists(t *testing.T) {
	ctx := context.Background()
	cfg := ConnectionConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "repwatch.db")}

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	store := NewSQLStore(db)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.CreateSubject(ctx, &Record{ID: "user-1", Plan: "basic"}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store = NewSQLStore(db)
	require.NoError(t, store.Migrate(ctx))
	rec, err := store.GetSubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "basic", rec.Plan)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), ConnectionConfig{Driver: "mysql", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported database driver")
}
