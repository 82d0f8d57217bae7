package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventPlanUpgraded   EventType = "plan.upgraded"
	EventPlanDowngraded EventType = "plan.downgraded"
	EventPlanRenewed    EventType = "plan.renewed"
)

// Header names set on every delivery
const (
	HeaderEvent     = "X-Repwatch-Event"
	HeaderEventID   = "X-Repwatch-Event-ID"
	HeaderDelivery  = "X-Repwatch-Delivery"
	HeaderSignature = "X-Repwatch-Signature"
)

const maxResponseBody = 1024

// EventTypeFor names the direction of a plan change
func EventTypeFor(from, to plans.PlanTier) EventType {
	switch {
	case to.Rank() > from.Rank():
		return EventPlanUpgraded
	case to.Rank() < from.Rank():
		return EventPlanDowngraded
	default:
		return EventPlanRenewed
	}
}

// Event is the JSON body posted to endpoints
type Event struct {
	ID        string                  `json:"id"`
	Type      EventType               `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Data      entitlements.PlanChange `json:"data"`
}

// Endpoint is a receiver of plan change events.
// An empty Events list subscribes to every event type.
type Endpoint struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Secret string      `json:"-"`
	Events []EventType `json:"events,omitempty"`
}

func (e Endpoint) wants(t EventType) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, et := range e.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Config configures a Notifier
type Config struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
	MaxLogs int
	Retry   RetryConfig
}

// Notifier posts signed plan change events to configured endpoints.
// It implements entitlements.Observer. Failed deliveries are kept for
// RetryPending to pick up on a schedule.
type Notifier struct {
	endpoints  map[string]Endpoint
	order      []string
	client     *http.Client
	deliveries *DeliveryLogStore
	retry      *RetryPolicy
	log        *logrus.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewNotifier creates a notifier with one endpoint per configured URL
func NewNotifier(cfg Config, log *logrus.Logger, metrics *observability.Metrics) *Notifier {
	if log == nil {
		log = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	n := &Notifier{
		endpoints:  make(map[string]Endpoint),
		client:     &http.Client{Timeout: cfg.Timeout},
		deliveries: NewDeliveryLogStore(cfg.MaxLogs),
		retry:      NewRetryPolicy(cfg.Retry),
		log:        log,
		metrics:    metrics,
		now:        time.Now,
	}
	for _, url := range cfg.URLs {
		n.AddEndpoint(Endpoint{URL: url, Secret: cfg.Secret})
	}
	return n
}

// AddEndpoint registers an endpoint. The ID is derived from the URL when empty.
// Not safe for use once notifications are flowing.
func (n *Notifier) AddEndpoint(ep Endpoint) Endpoint {
	if ep.ID == "" {
		ep.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(ep.URL)).String()
	}
	if _, exists := n.endpoints[ep.ID]; !exists {
		n.order = append(n.order, ep.ID)
	}
	n.endpoints[ep.ID] = ep
	return ep
}

// Endpoints lists registered endpoints in registration order
func (n *Notifier) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.endpoints[id])
	}
	return out
}

// Deliveries exposes the delivery history
func (n *Notifier) Deliveries() *DeliveryLogStore {
	return n.deliveries
}

// NewEvent builds the webhook event for a plan change
func NewEvent(change entitlements.PlanChange) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventTypeFor(change.From, change.To),
		Timestamp: change.ChangedAt.UTC(),
		Data:      change,
	}
}

// PlanChanged makes one delivery attempt per subscribed endpoint.
// The returned error joins every endpoint failure; failures that still
// have attempts left stay queued for RetryPending.
func (n *Notifier) PlanChanged(ctx context.Context, change entitlements.PlanChange) error {
	event := NewEvent(change)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	var errs []error
	for _, id := range n.order {
		ep := n.endpoints[id]
		if !ep.wants(event.Type) {
			continue
		}
		delivery := DeliveryLog{
			ID:         uuid.NewString(),
			EndpointID: ep.ID,
			EventID:    event.ID,
			EventType:  event.Type,
			SubjectID:  change.SubjectID,
			URL:        ep.URL,
			Status:     DeliveryStatusPending,
			CreatedAt:  n.now(),
			payload:    payload,
		}
		if err := n.attempt(ctx, ep, delivery); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.URL, err))
		}
	}
	return errors.Join(errs...)
}

// RetryPending re-attempts every delivery whose backoff has elapsed.
// Individual failures are logged; the error is reserved for ctx cancellation.
func (n *Notifier) RetryPending(ctx context.Context) error {
	for _, delivery := range n.deliveries.PendingRetries(n.now()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ep, ok := n.endpoints[delivery.EndpointID]
		if !ok {
			n.finish(&delivery, DeliveryStatusFailed, "endpoint no longer registered")
			continue
		}
		if err := n.attempt(ctx, ep, delivery); err != nil {
			n.log.WithFields(logrus.Fields{
				"delivery_id": delivery.ID,
				"url":         ep.URL,
				"attempts":    delivery.Attempts + 1,
			}).WithError(err).Debug("Webhook retry failed")
		}
	}
	return nil
}

// attempt sends delivery once and publishes the outcome. delivery is a
// private copy; the store only ever sees finished states.
func (n *Notifier) attempt(ctx context.Context, ep Endpoint, delivery DeliveryLog) error {
	delivery.Attempts++
	delivery.StatusCode, delivery.ResponseBody = 0, ""
	start := n.now()
	err := n.send(ctx, ep, &delivery)
	delivery.Duration = n.now().Sub(start)

	if err == nil {
		n.finish(&delivery, DeliveryStatusSuccess, "")
		return nil
	}

	fields := logrus.Fields{
		"delivery_id": delivery.ID,
		"event_type":  delivery.EventType,
		"subject_id":  delivery.SubjectID,
		"url":         ep.URL,
		"attempts":    delivery.Attempts,
	}
	if n.retry.ShouldRetry(delivery.Attempts, delivery.StatusCode, err) {
		next := n.retry.NextRetryTime(n.now(), delivery.Attempts)
		delivery.Status = DeliveryStatusRetrying
		delivery.NextRetryAt = &next
		delivery.ErrorMessage = err.Error()
		n.deliveries.Put(delivery)
		n.metrics.RecordWebhookDelivery(string(DeliveryStatusRetrying))
		n.log.WithFields(fields).WithError(err).Warn("Webhook delivery failed, scheduled retry")
		return err
	}

	reason := "max retries exceeded"
	if Permanent(delivery.StatusCode) {
		reason = "rejected by endpoint"
	}
	n.finish(&delivery, DeliveryStatusFailed, fmt.Sprintf("%s: %v", reason, err))
	n.log.WithFields(fields).WithError(err).Error("Webhook delivery abandoned")
	return err
}

func (n *Notifier) finish(delivery *DeliveryLog, status DeliveryStatus, msg string) {
	now := n.now()
	delivery.Status = status
	delivery.ErrorMessage = msg
	delivery.NextRetryAt = nil
	delivery.CompletedAt = &now
	n.deliveries.Put(*delivery)
	n.metrics.RecordWebhookDelivery(string(status))
}

func (n *Notifier) send(ctx context.Context, ep Endpoint, delivery *DeliveryLog) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(delivery.payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "repwatch-webhooks/1.0")
	req.Header.Set(HeaderEvent, string(delivery.EventType))
	req.Header.Set(HeaderEventID, delivery.EventID)
	req.Header.Set(HeaderDelivery, delivery.ID)
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(delivery.payload, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	delivery.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	delivery.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the "sha256=<hex>" HMAC of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign in constant time
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
