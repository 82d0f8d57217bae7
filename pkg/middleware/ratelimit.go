package middleware

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/httputil"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// AnonymousRateLimitConfig limits requests that carry no subject
func AnonymousRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// TierRateLimitConfigs returns the request rate allowed on each plan
func TierRateLimitConfigs() map[plans.PlanTier]*RateLimitConfig {
	return map[plans.PlanTier]*RateLimitConfig{
		plans.PlanFree:       {RequestsPerWindow: 60, WindowDuration: time.Minute, BurstSize: 10},
		plans.PlanBasic:      {RequestsPerWindow: 300, WindowDuration: time.Minute, BurstSize: 30},
		plans.PlanPro:        {RequestsPerWindow: 1000, WindowDuration: time.Minute, BurstSize: 100},
		plans.PlanEnterprise: {RequestsPerWindow: 5000, WindowDuration: time.Minute, BurstSize: 500},
	}
}

// Limiter decides whether a keyed request fits in its window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	Config() *RateLimitConfig
}

// RateLimiter implements a process-local token bucket
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

// NewRateLimiter creates an in-memory rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = AnonymousRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Config returns the limiter configuration
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow takes one token for key if available
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	maxTokens := rl.config.RequestsPerWindow + rl.config.BurstSize
	now := rl.now()

	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: maxTokens, lastUpdate: now}
		rl.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastUpdate)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens = min(b.tokens+tokensToAdd, maxTokens)
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the tokens left for key
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		return rl.config.RequestsPerWindow + rl.config.BurstSize, nil
	}
	return b.tokens, nil
}

// Cleanup removes buckets idle for two windows; by then they would have
// refilled anyway. Returns the number removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// DistributedRateLimiter implements fixed window counting in Redis so limits
// are shared across instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = AnonymousRateLimitConfig()
	}
	if prefix == "" {
		prefix = "repwatch:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Config returns the limiter configuration
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts the request and reports whether it is within the window limit
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	// First hit opens the window
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow+rl.config.BurstSize), nil
}

// Remaining returns the requests left in the current window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow + rl.config.BurstSize, nil
	}
	if err != nil {
		return 0, err
	}
	return max(rl.config.RequestsPerWindow+rl.config.BurstSize-count, 0), nil
}

// RateLimitMiddleware limits request rate by the subject's plan
type RateLimitMiddleware struct {
	tiers     map[plans.PlanTier]Limiter
	anonymous Limiter
	failOpen  bool
	log       *logrus.Logger
}

// NewRateLimitMiddleware creates a middleware with in-memory limiters
func NewRateLimitMiddleware(log *logrus.Logger) *RateLimitMiddleware {
	tiers := make(map[plans.PlanTier]Limiter)
	for tier, cfg := range TierRateLimitConfigs() {
		tiers[tier] = NewRateLimiter(cfg)
	}
	return newRateLimitMiddleware(tiers, NewRateLimiter(AnonymousRateLimitConfig()), log)
}

// NewDistributedRateLimitMiddleware creates a middleware sharing limits through Redis
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, log *logrus.Logger) *RateLimitMiddleware {
	tiers := make(map[plans.PlanTier]Limiter)
	for tier, cfg := range TierRateLimitConfigs() {
		tiers[tier] = NewDistributedRateLimiter(redisClient, cfg, "repwatch:ratelimit:"+string(tier))
	}
	anonymous := NewDistributedRateLimiter(redisClient, AnonymousRateLimitConfig(), "repwatch:ratelimit:anon")
	return newRateLimitMiddleware(tiers, anonymous, log)
}

func newRateLimitMiddleware(tiers map[plans.PlanTier]Limiter, anonymous Limiter, log *logrus.Logger) *RateLimitMiddleware {
	if log == nil {
		log = logrus.New()
	}
	return &RateLimitMiddleware{
		tiers:     tiers,
		anonymous: anonymous,
		failOpen:  true,
		log:       log,
	}
}

// local returns the process-local limiters; Redis-backed ones expire their
// own keys
func (m *RateLimitMiddleware) local() []*RateLimiter {
	var out []*RateLimiter
	for _, l := range append([]Limiter{m.anonymous}, slices.Collect(maps.Values(m.tiers))...) {
		if rl, ok := l.(*RateLimiter); ok {
			out = append(out, rl)
		}
	}
	return out
}

// CleanupInterval is how often Cleanup should run: twice the longest local
// window, or 0 when every limiter is Redis-backed
func (m *RateLimitMiddleware) CleanupInterval() time.Duration {
	var interval time.Duration
	for _, rl := range m.local() {
		interval = max(interval, rl.config.WindowDuration*2)
	}
	return interval
}

// Cleanup drops idle buckets from every process-local limiter. It has the
// async.Every task signature.
func (m *RateLimitMiddleware) Cleanup(context.Context) error {
	removed := 0
	for _, rl := range m.local() {
		removed += rl.Cleanup()
	}
	if removed > 0 {
		m.log.WithField("removed", removed).Debug("Rate limit buckets cleaned up")
	}
	return nil
}

// SetFailOpen controls whether limiter errors allow (true) or reject (false) requests
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting.
//
// REQUIRES: SubjectContext must run before this middleware for plan limits
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		key := "ip:" + getClientIP(r)
		limiter := m.anonymous
		if subject, ok := SubjectFromContext(ctx); ok {
			key = "subject:" + subject.ID()
			if l, ok := m.tiers[subject.Tier()]; ok {
				limiter = l
			}
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			m.log.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}

		cfg := limiter.Config()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))

		if !allowed {
			retryAfter := fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds())
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteDetailedError(w, http.StatusTooManyRequests, "rate limit exceeded", map[string]any{
				"retry_after": cfg.WindowDuration.Seconds(),
			})
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
