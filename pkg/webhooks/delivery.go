package webhooks

import (
	"slices"
	"sync"
	"time"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog tracks one event sent to one endpoint across attempts
type DeliveryLog struct {
	ID           string         `json:"id"`
	EndpointID   string         `json:"endpoint_id"`
	EventID      string         `json:"event_id"`
	EventType    EventType      `json:"event_type"`
	SubjectID    string         `json:"subject_id"`
	URL          string         `json:"url"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`

	// payload is the exact body sent on every attempt so retries carry the
	// same signature input
	payload []byte
}

// DeliveryLogStore keeps a bounded in-memory history of deliveries. Logs
// are stored by value; callers only ever see copies.
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore holds at most maxLogs deliveries (1000 when <= 0)
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Put records the latest state of a delivery. A new delivery arriving at a
// full store first evicts the oldest tenth.
func (s *DeliveryLogStore) Put(log DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logs[log.ID]; !exists && len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[log.ID] = log
}

func (s *DeliveryLogStore) Get(id string) (DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

// BySubject returns the deliveries for a subject, newest first. A
// non-positive limit returns all of them.
func (s *DeliveryLogStore) BySubject(subjectID string, limit int) []DeliveryLog {
	result := s.filter(func(log DeliveryLog) bool { return log.SubjectID == subjectID })
	slices.SortFunc(result, func(a, b DeliveryLog) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// PendingRetries returns retrying deliveries due at or before now, oldest first
func (s *DeliveryLogStore) PendingRetries(now time.Time) []DeliveryLog {
	result := s.filter(func(log DeliveryLog) bool {
		return log.Status == DeliveryStatusRetrying && log.NextRetryAt != nil && !log.NextRetryAt.After(now)
	})
	slices.SortFunc(result, func(a, b DeliveryLog) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result
}

func (s *DeliveryLogStore) filter(keep func(DeliveryLog) bool) []DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []DeliveryLog
	for _, log := range s.logs {
		if keep(log) {
			result = append(result, log)
		}
	}
	return result
}

// evictOldest drops the oldest tenth (at least one). Caller holds the lock.
func (s *DeliveryLogStore) evictOldest() {
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return s.logs[a].CreatedAt.Compare(s.logs[b].CreatedAt)
	})
	for _, id := range ids[:max(len(ids)/10, 1)] {
		delete(s.logs, id)
	}
}

// Stats summarizes deliveries for one endpoint
func (s *DeliveryLogStore) Stats(endpointID string) DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := DeliveryStats{EndpointID: endpointID}
	for _, log := range s.logs {
		if log.EndpointID != endpointID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
			stats.TotalDuration += log.Duration
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
	}

	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

// DeliveryStats represents delivery statistics
type DeliveryStats struct {
	EndpointID      string        `json:"endpoint_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}
