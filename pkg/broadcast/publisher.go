package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
)

// Event is the wire form of a plan change
type Event struct {
	Instance string                  `json:"instance"`
	Change   entitlements.PlanChange `json:"change"`
}

// Publisher publishes committed plan changes to Redis
type Publisher struct {
	client   *redis.Client
	channel  string
	instance string
	log      *logrus.Logger
	metrics  *observability.Metrics
}

// NewPublisher creates a publisher. An empty channel uses DefaultChannel.
func NewPublisher(client *redis.Client, channel, instance string, log *logrus.Logger, metrics *observability.Metrics) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &Publisher{
		client:   client,
		channel:  channel,
		instance: instance,
		log:      log,
		metrics:  metrics,
	}
}

// PlanChanged implements entitlements.Observer
func (p *Publisher) PlanChanged(ctx context.Context, change entitlements.PlanChange) error {
	payload, err := json.Marshal(Event{Instance: p.instance, Change: change})
	if err != nil {
		return fmt.Errorf("failed to encode plan change: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish plan change: %w", err)
	}

	p.metrics.RecordBroadcast("published")
	p.log.WithFields(logrus.Fields{
		"subject_id": change.SubjectID,
		"channel":    p.channel,
	}).Debug("Published plan change")
	return nil
}
