package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
)

// ErrNotMetered is returned when consuming a feature that has no quantity
var ErrNotMetered = errors.New("feature is not metered")

// Meter records consumption of quantity features against plan limits
type Meter struct {
	svc     *entitlements.Service
	log     *logrus.Logger
	metrics *observability.Metrics

	// per-subject locks so check and increment are not interleaved
	locks sync.Map
}

// NewMeter creates a meter over the entitlement service
func NewMeter(svc *entitlements.Service, log *logrus.Logger, metrics *observability.Metrics) *Meter {
	if log == nil {
		log = logrus.New()
	}
	return &Meter{svc: svc, log: log, metrics: metrics}
}

func (m *Meter) lock(id string) func() {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Consume records n units of key for subject and returns the new total.
// The request is rejected as a whole when the last unit would not fit. The
// store re-checks the limit atomically, so instances sharing a store cannot
// jointly exceed it.
func (m *Meter) Consume(ctx context.Context, subject *entitlements.Subject, key plans.FeatureKey, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("units must be positive, got %d", n)
	}
	if kind, ok := plans.KindOf(key); !ok || kind != plans.KindQuantity {
		return 0, fmt.Errorf("%w: %s", ErrNotMetered, key)
	}

	unlock := m.lock(subject.ID())
	defer unlock()

	tier := subject.Tier()
	current := subject.Usage(key)
	limit := m.svc.FeatureLimit(tier, key)
	unlimited := m.svc.IsFeatureUnlimited(tier, key)

	if err := m.svc.CheckFeature(tier, key, lastUnit(current, n, limit, unlimited)); err != nil {
		return current, m.reject(subject, tier, key, current, n, err)
	}

	total, err := m.svc.Store().IncrementUsage(ctx, subject.ID(), key, n, limit)
	switch {
	case errors.Is(err, subjects.ErrUsageLimit) && !unlimited:
		// another instance took the headroom since this subject was loaded
		subject.SetUsage(key, total)
		return total, m.reject(subject, tier, key, total, n, m.svc.CheckFeature(tier, key, max(total, limit)))
	case err != nil:
		return current, fmt.Errorf("failed to record usage: %w", err)
	}
	subject.SetUsage(key, total)
	m.metrics.RecordUsage(string(key), n, false)

	return total, nil
}

// lastUnit is the usage at which the n-th requested unit would be taken.
// Requests larger than the headroom map to a usage at or past the limit
// instead of overflowing.
func lastUnit(current, n, limit int64, unlimited bool) int64 {
	switch {
	case unlimited:
		return current
	case n > limit-current:
		return max(current, limit)
	default:
		return current + n - 1
	}
}

func (m *Meter) reject(subject *entitlements.Subject, tier plans.PlanTier, key plans.FeatureKey, usage, n int64, err error) error {
	var limitErr *entitlements.FeatureLimitError
	if errors.As(err, &limitErr) {
		limitErr.Usage = usage
	}
	m.metrics.RecordUsage(string(key), n, true)
	m.log.WithFields(logrus.Fields{
		"subject_id": subject.ID(),
		"feature":    key,
		"tier":       tier,
		"usage":      usage,
		"requested":  n,
	}).Debug("Usage rejected")
	return err
}

// Remaining returns how many units are left for key, or plans.Unlimited
func (m *Meter) Remaining(subject *entitlements.Subject, key plans.FeatureKey) int64 {
	tier := subject.Tier()
	if m.svc.IsFeatureUnlimited(tier, key) {
		return plans.Unlimited
	}
	left := m.svc.FeatureLimit(tier, key) - subject.Usage(key)
	if left < 0 {
		return 0
	}
	return left
}
