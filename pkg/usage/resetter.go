package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// DefaultResetSchedule runs at 00:00 UTC on the first day of each month
const DefaultResetSchedule = "0 0 1 * *"

// MonthlyFeatures are the counters that start over every billing month
var MonthlyFeatures = []plans.FeatureKey{
	plans.FeatureMaxMonthlyCredits,
	plans.FeatureMaxReportsPerMonth,
}

// Resetter zeroes monthly usage counters on a cron schedule
type Resetter struct {
	svc      *entitlements.Service
	schedule string
	parsed   cron.Schedule
	timeout  time.Duration
	log      *logrus.Logger
	metrics  *observability.Metrics
	cron     *cron.Cron
}

// NewResetter creates a resetter. An empty schedule uses DefaultResetSchedule.
func NewResetter(svc *entitlements.Service, schedule string, log *logrus.Logger, metrics *observability.Metrics) (*Resetter, error) {
	if schedule == "" {
		schedule = DefaultResetSchedule
	}
	if log == nil {
		log = logrus.New()
	}

	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", schedule, err)
	}

	r := &Resetter{
		svc:      svc,
		schedule: schedule,
		parsed:   parsed,
		timeout:  5 * time.Minute,
		log:      log,
		metrics:  metrics,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}

	r.cron.Schedule(parsed, cron.FuncJob(r.run))
	return r, nil
}

// Start begins running the schedule in the background
func (r *Resetter) Start() {
	r.cron.Start()
	r.log.WithField("schedule", r.schedule).Info("Usage reset scheduler started")
}

// Stop halts the schedule and waits for a running reset to finish
func (r *Resetter) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the first scheduled reset after t
func (r *Resetter) Next(t time.Time) time.Time {
	return r.parsed.Next(t.UTC())
}

func (r *Resetter) run() {
	defer observability.RecoverPanic(r.log, "usage reset")

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.ResetNow(ctx); err != nil {
		r.log.WithError(err).Error("Scheduled usage reset failed")
	}
}

// ResetNow zeroes the monthly counters in the store and in cached subjects
func (r *Resetter) ResetNow(ctx context.Context) (int64, error) {
	n, err := r.svc.Store().ResetUsage(ctx, MonthlyFeatures)
	r.metrics.RecordUsageReset(err)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}

	r.svc.ResetCachedUsage(MonthlyFeatures...)
	r.log.WithField("counters", n).Info("Monthly usage reset")
	return n, nil
}
