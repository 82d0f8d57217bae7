package subjects

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// ErrSubjectNotFound is returned when no subject has the requested ID
var ErrSubjectNotFound = errors.New("subject not found")

// ErrSubjectExists is returned when creating a subject whose ID is taken
var ErrSubjectExists = errors.New("subject already exists")

// ErrUsageLimit is returned by IncrementUsage when the units do not fit
// under the limit; the counter is left untouched
var ErrUsageLimit = errors.New("usage limit exceeded")

// Record is the persisted view of a subject
type Record struct {
	ID        string                     `json:"id"`
	Plan      string                     `json:"plan"`
	Usage     map[plans.FeatureKey]int64 `json:"usage,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	out := *r
	out.Usage = make(map[plans.FeatureKey]int64, len(r.Usage))
	for k, v := range r.Usage {
		out.Usage[k] = v
	}
	return &out
}

// Store persists subjects, their plan, and their usage counters
type Store interface {
	// CreateSubject inserts a new subject
	CreateSubject(ctx context.Context, rec *Record) error

	// GetSubject returns ErrSubjectNotFound for unknown IDs
	GetSubject(ctx context.Context, id string) (*Record, error)

	// PersistPlanChange stores the new plan; it either fully succeeds or
	// leaves the stored plan untouched
	PersistPlanChange(ctx context.Context, id string, tier plans.PlanTier) error

	// IncrementUsage adds n to a usage counter only if the new total stays
	// within limit (plans.Unlimited for no cap) and returns the new total.
	// Otherwise it returns the current total and ErrUsageLimit. The check
	// and the add are one atomic step in the store.
	IncrementUsage(ctx context.Context, id string, key plans.FeatureKey, n, limit int64) (int64, error)

	// ResetUsage zeroes the given counters for every subject and returns
	// the number of counters reset
	ResetUsage(ctx context.Context, keys []plans.FeatureKey) (int64, error)
}

// usageCap maps plans.Unlimited to the largest counter the store can hold
func usageCap(limit int64) int64 {
	if limit < 0 {
		return math.MaxInt64
	}
	return limit
}
