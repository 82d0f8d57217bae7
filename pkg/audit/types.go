package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypePlanUpgrade   EventType = "plan.upgrade"
	EventTypePlanDowngrade EventType = "plan.downgrade"
	EventTypePlanRenew     EventType = "plan.renew"
)

// Event is a single audit trail entry
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	SubjectID string         `json:"subject_id"`
	From      plans.PlanTier `json:"from"`
	To        plans.PlanTier `json:"to"`
	RequestID string         `json:"request_id,omitempty"`
}

// Sink persists audit events
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
}

// ClassifyChange names the direction of a plan change
func ClassifyChange(from, to plans.PlanTier) EventType {
	switch {
	case to.Rank() > from.Rank():
		return EventTypePlanUpgrade
	case to.Rank() < from.Rank():
		return EventTypePlanDowngrade
	default:
		return EventTypePlanRenew
	}
}
