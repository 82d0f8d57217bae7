package entitlements

import (
	"sync"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// Subject is the in-memory view of a user or tenant and its plan.
// The tier only changes through Service.ChangePlan.
type Subject struct {
	id string

	mu    sync.RWMutex
	tier  plans.PlanTier
	usage map[plans.FeatureKey]int64
}

// NewSubject creates a subject. An empty or unknown tier becomes free.
func NewSubject(id string, rawTier string, usage map[plans.FeatureKey]int64) *Subject {
	s := &Subject{
		id:    id,
		tier:  plans.ParseTier(rawTier),
		usage: make(map[plans.FeatureKey]int64, len(usage)),
	}
	for k, v := range usage {
		s.usage[k] = v
	}
	return s
}

// ID returns the subject identifier
func (s *Subject) ID() string {
	return s.id
}

// Tier returns the current committed tier
func (s *Subject) Tier() plans.PlanTier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tier
}

// Usage returns the current counter for key
func (s *Subject) Usage(key plans.FeatureKey) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[key]
}

// UsageSnapshot returns a copy of all usage counters
func (s *Subject) UsageSnapshot() map[plans.FeatureKey]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[plans.FeatureKey]int64, len(s.usage))
	for k, v := range s.usage {
		out[k] = v
	}
	return out
}

// SetUsage replaces a usage counter with the stored total
func (s *Subject) SetUsage(key plans.FeatureKey, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[key] = total
}

// ResetUsage zeroes the given counters
func (s *Subject) ResetUsage(keys ...plans.FeatureKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if _, ok := s.usage[key]; ok {
			s.usage[key] = 0
		}
	}
}

func (s *Subject) setTier(tier plans.PlanTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tier = tier
}
