package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
)

// Recorder writes committed plan changes to a sink
type Recorder struct {
	sink     Sink
	sinkName string
	log      *logrus.Logger
	metrics  *observability.Metrics
}

// NewRecorder creates a recorder. sinkName labels metrics.
func NewRecorder(sink Sink, sinkName string, log *logrus.Logger, metrics *observability.Metrics) *Recorder {
	if log == nil {
		log = logrus.New()
	}
	return &Recorder{sink: sink, sinkName: sinkName, log: log, metrics: metrics}
}

// NewEvent builds the audit event for a plan change
func NewEvent(change entitlements.PlanChange) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: change.ChangedAt.UTC(),
		EventType: ClassifyChange(change.From, change.To),
		SubjectID: change.SubjectID,
		From:      change.From,
		To:        change.To,
		RequestID: change.RequestID,
	}
}

// PlanChanged implements entitlements.Observer
func (r *Recorder) PlanChanged(ctx context.Context, change entitlements.PlanChange) error {
	event := NewEvent(change)
	err := r.sink.Write(ctx, event)
	r.metrics.RecordAudit(r.sinkName, err)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"subject_id": event.SubjectID,
			"sink":       r.sinkName,
		}).Error("Failed to write audit event")
		return err
	}
	return nil
}
