package entitlements

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/repwatch/pkg/contextkeys"
	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
)

const (
	defaultSessionCacheSize  = 10000
	defaultNotifyConcurrency = 8
)

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(log *logrus.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the Prometheus metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithSessionCacheSize bounds the number of subjects kept in memory
func WithSessionCacheSize(size int) Option {
	return func(s *Service) {
		s.cacheSize = size
	}
}

// WithNotifyConcurrency bounds how many observers are notified at once
func WithNotifyConcurrency(n int) Option {
	return func(s *Service) {
		s.notifyLimit = n
	}
}

// WithClock overrides the time source for change timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type subscription struct {
	id       uint64
	observer Observer
}

// Service applies plan changes and notifies observers
type Service struct {
	*Evaluator

	store       subjects.Store
	log         *logrus.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	now         func() time.Time
	cacheSize   int
	notifyLimit int

	sessions *lru.Cache[string, *Subject]
	loads    singleflight.Group

	// changeLocks serializes plan changes per subject ID. Keyed by ID, not
	// by *Subject, because an evicted subject may be reloaded as a second
	// object while a change is in flight.
	changeLocks sync.Map

	observersMu sync.RWMutex
	observers   []subscription
	nextID      uint64
}

// NewService creates a service over an evaluator and a subject store
func NewService(evaluator *Evaluator, store subjects.Store, opts ...Option) (*Service, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("subject store is required")
	}

	s := &Service{
		Evaluator:   evaluator,
		store:       store,
		log:         evaluator.log,
		metrics:     evaluator.metrics,
		tracer:      otel.Tracer("repwatch/entitlements"),
		now:         time.Now,
		cacheSize:   defaultSessionCacheSize,
		notifyLimit: defaultNotifyConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	sessions, err := lru.New[string, *Subject](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	s.sessions = sessions

	return s, nil
}

// Subscribe registers an observer. The returned func removes it and is safe
// to call more than once.
func (s *Service) Subscribe(observer Observer) func() {
	s.observersMu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, subscription{id: id, observer: observer})
	s.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.observersMu.Lock()
			defer s.observersMu.Unlock()
			for i, sub := range s.observers {
				if sub.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Service) subscribers() []Observer {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()

	out := make([]Observer, len(s.observers))
	for i, sub := range s.observers {
		out[i] = sub.observer
	}
	return out
}

// LoadSubject returns the shared in-memory subject for id, reading it from
// the store on a cache miss. Concurrent misses for one id share a single read.
func (s *Service) LoadSubject(ctx context.Context, id string) (*Subject, error) {
	if subject, ok := s.sessions.Get(id); ok {
		s.metrics.RecordSessionLookup(true)
		return subject, nil
	}
	s.metrics.RecordSessionLookup(false)

	v, err, _ := s.loads.Do(id, func() (any, error) {
		if subject, ok := s.sessions.Get(id); ok {
			return subject, nil
		}
		rec, err := s.store.GetSubject(ctx, id)
		if err != nil {
			return nil, err
		}
		subject := NewSubject(rec.ID, rec.Plan, rec.Usage)
		s.sessions.Add(id, subject)
		return subject, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load subject %s: %w", id, err)
	}
	return v.(*Subject), nil
}

// Invalidate drops the cached subject so the next load reads the store
func (s *Service) Invalidate(id string) {
	s.sessions.Remove(id)
}

// ResetCachedUsage zeroes the given counters on every cached subject
func (s *Service) ResetCachedUsage(keys ...plans.FeatureKey) {
	for _, subject := range s.sessions.Values() {
		subject.ResetUsage(keys...)
	}
}

// Store returns the subject store
func (s *Service) Store() subjects.Store {
	return s.store
}

// ChangePlan persists newTier for subject and, once the store confirms,
// updates the subject and notifies every observer before returning true.
// On any failure it returns false; the subject keeps its tier and no
// observer is notified.
func (s *Service) ChangePlan(ctx context.Context, subject *Subject, newTier plans.PlanTier) bool {
	_, ok := s.ApplyPlanChange(ctx, subject, newTier)
	return ok
}

// ApplyPlanChange is ChangePlan that also returns the committed change, so
// callers report the From tier read under the change lock.
func (s *Service) ApplyPlanChange(ctx context.Context, subject *Subject, newTier plans.PlanTier) (PlanChange, bool) {
	ctx, span := s.tracer.Start(ctx, "ChangePlan",
		trace.WithAttributes(attribute.String("plan.to", string(newTier))),
	)
	defer span.End()

	if subject == nil {
		span.SetStatus(codes.Error, "nil subject")
		return PlanChange{}, false
	}
	span.SetAttributes(attribute.String("subject.id", subject.ID()))

	log := s.log.WithFields(logrus.Fields{
		"subject_id": subject.ID(),
		"to":         newTier,
		"request_id": contextkeys.GetRequestID(ctx),
	})

	if !newTier.IsValid() {
		log.Warn("Rejected plan change to unknown tier")
		span.SetStatus(codes.Error, "unknown tier")
		s.metrics.RecordPlanChange(string(subject.Tier()), string(newTier), "rejected", 0)
		return PlanChange{}, false
	}

	start := time.Now()
	unlock := s.lockChanges(subject.ID())
	defer unlock()

	// an evicted object may trail the cached one
	if cached, ok := s.sessions.Peek(subject.ID()); ok && cached != subject {
		subject.setTier(cached.Tier())
	}
	from := subject.Tier()
	span.SetAttributes(attribute.String("plan.from", string(from)))
	log = log.WithField("from", from)

	if err := s.store.PersistPlanChange(ctx, subject.ID(), newTier); err != nil {
		log.WithError(err).Error("Failed to persist plan change")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist plan change")
		s.metrics.RecordPlanChange(string(from), string(newTier), "failed", time.Since(start))
		return PlanChange{}, false
	}

	subject.setTier(newTier)
	if cached, ok := s.sessions.Peek(subject.ID()); ok && cached != subject {
		cached.setTier(newTier)
	}

	change := PlanChange{
		SubjectID: subject.ID(),
		From:      from,
		To:        newTier,
		ChangedAt: s.now().UTC(),
		RequestID: contextkeys.GetRequestID(ctx),
	}
	delivered := s.notify(ctx, change)

	log.WithField("observers", delivered).Info("Plan changed")
	span.SetStatus(codes.Ok, "plan changed")
	s.metrics.RecordPlanChange(string(from), string(newTier), "success", time.Since(start))
	return change, true
}

func (s *Service) lockChanges(id string) func() {
	mu, _ := s.changeLocks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// notify delivers change to every observer and waits for all of them.
// Delivery ignores caller cancellation: the change is already committed.
func (s *Service) notify(ctx context.Context, change PlanChange) int {
	observers := s.subscribers()
	if len(observers) == 0 {
		return 0
	}

	notifyCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	if s.notifyLimit > 0 {
		g.SetLimit(s.notifyLimit)
	}

	for _, observer := range observers {
		g.Go(func() error {
			panicked, err := deliver(notifyCtx, observer, change)
			if err != nil {
				reason := "error"
				if panicked {
					reason = "panic"
				}
				s.log.WithError(err).WithFields(logrus.Fields{
					"subject_id": change.SubjectID,
					"reason":     reason,
				}).Warn("Plan change observer failed")
				s.metrics.RecordObserverError(reason)
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(observers)
}

func deliver(ctx context.Context, observer Observer, change PlanChange) (panicked bool, err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			panicked = true
			err = perr
		}
	}()
	return false, observer.PlanChanged(ctx, change)
}
