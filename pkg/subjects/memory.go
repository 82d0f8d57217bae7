package subjects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// MemoryStore implements Store in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string]*Record
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects: make(map[string]*Record),
		now:      time.Now,
	}
}

// CreateSubject inserts a new subject
func (s *MemoryStore) CreateSubject(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("subject id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subjects[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSubjectExists, rec.ID)
	}
	stored := rec.Clone()
	stored.UpdatedAt = s.now()
	s.subjects[rec.ID] = stored
	return nil
}

// GetSubject returns a copy of the stored record
func (s *MemoryStore) GetSubject(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subjects[id]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	return rec.Clone(), nil
}

// PersistPlanChange stores the new plan
func (s *MemoryStore) PersistPlanChange(ctx context.Context, id string, tier plans.PlanTier) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	rec.Plan = string(tier)
	rec.UpdatedAt = s.now()
	return nil
}

// IncrementUsage adds n to a usage counter when it fits under limit
func (s *MemoryStore) IncrementUsage(ctx context.Context, id string, key plans.FeatureKey, n, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.subjects[id]
	if !ok {
		return 0, ErrSubjectNotFound
	}
	current := rec.Usage[key]
	if n > usageCap(limit)-current {
		return current, ErrUsageLimit
	}
	rec.Usage[key] = current + n
	rec.UpdatedAt = s.now()
	return rec.Usage[key], nil
}

// ResetUsage zeroes the given counters for every subject
func (s *MemoryStore) ResetUsage(ctx context.Context, keys []plans.FeatureKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	for _, rec := range s.subjects {
		for _, key := range keys {
			if _, ok := rec.Usage[key]; ok {
				rec.Usage[key] = 0
				reset++
			}
		}
	}
	return reset, nil
}
