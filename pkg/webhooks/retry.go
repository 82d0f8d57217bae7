package webhooks

import (
	"math"
	"net/http"
	"time"
)

// RetryConfig bounds redelivery of a failed webhook
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig allows five attempts spread over roughly fifteen seconds
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy decides whether and when a failed delivery is attempted again.
// Delays grow geometrically from InitialDelay and are capped at MaxDelay.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling zero fields with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a failed delivery gets another attempt.
// statusCode is the endpoint's response code, or 0 when no response arrived.
// Client errors other than 408 and 429 are permanent.
func (p *RetryPolicy) ShouldRetry(attempts, statusCode int, err error) bool {
	if err == nil || Permanent(statusCode) {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// Permanent reports whether a response code means redelivery cannot succeed
func Permanent(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return statusCode >= 400 && statusCode < 500
}

// NextRetryDelay is the wait after the given number of failed attempts
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	exp := max(attempts-1, 0)
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(exp))
	return min(time.Duration(delay), p.config.MaxDelay)
}

// NextRetryTime is the earliest time the next attempt may run
func (p *RetryPolicy) NextRetryTime(now time.Time, attempts int) time.Time {
	return now.Add(p.NextRetryDelay(attempts))
}
