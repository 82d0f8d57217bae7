package entitlements

import (
	"context"
	"time"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// PlanChange is the notification emitted after a committed plan change
type PlanChange struct {
	SubjectID string         `json:"subject_id"`
	From      plans.PlanTier `json:"from"`
	To        plans.PlanTier `json:"to"`
	ChangedAt time.Time      `json:"changed_at"`
	RequestID string         `json:"request_id,omitempty"`
}

// Observer receives plan change notifications.
// Errors are logged by the service; they never undo the change.
type Observer interface {
	PlanChanged(ctx context.Context, change PlanChange) error
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ctx context.Context, change PlanChange) error

// PlanChanged calls f
func (f ObserverFunc) PlanChanged(ctx context.Context, change PlanChange) error {
	return f(ctx, change)
}
