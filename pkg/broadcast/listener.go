package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
)

// Handler is invoked for plan changes committed by other instances
type Handler func(ctx context.Context, change entitlements.PlanChange)

// Listener consumes plan change events from Redis
type Listener struct {
	client   *redis.Client
	channel  string
	instance string
	handler  Handler
	log      *logrus.Logger
	metrics  *observability.Metrics

	ready     chan struct{}
	readyOnce sync.Once
}

// NewListener creates a listener. An empty channel uses DefaultChannel.
func NewListener(client *redis.Client, channel, instance string, handler Handler, log *logrus.Logger, metrics *observability.Metrics) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &Listener{
		client:   client,
		channel:  channel,
		instance: instance,
		handler:  handler,
		log:      log,
		metrics:  metrics,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the subscription is confirmed
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run subscribes and dispatches events until ctx is cancelled
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.channel, err)
	}
	l.readyOnce.Do(func() { close(l.ready) })
	l.log.WithField("channel", l.channel).Info("Listening for plan changes")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			l.dispatch(ctx, msg.Payload)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	defer observability.RecoverPanic(l.log, "broadcast listener")

	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.log.WithError(err).Warn("Discarding malformed plan change event")
		l.metrics.RecordBroadcast("malformed")
		return
	}

	if event.Instance == l.instance {
		l.metrics.RecordBroadcast("skipped")
		return
	}

	l.metrics.RecordBroadcast("received")
	l.log.WithFields(logrus.Fields{
		"subject_id": event.Change.SubjectID,
		"from":       event.Change.From,
		"to":         event.Change.To,
		"instance":   event.Instance,
	}).Debug("Received plan change")
	l.handler(ctx, event.Change)
}
