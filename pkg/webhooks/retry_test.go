package webhooks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, DefaultRetryConfig(), p.config)

	p = NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: 2 * time.Second, BackoffMultiplier: 1.5})
	assert.Equal(t, 3, p.config.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.config.InitialDelay)
	assert.Equal(t, 5*time.Minute, p.config.MaxDelay)
	assert.Equal(t, 1.5, p.config.BackoffMultiplier)
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	failure := errors.New("boom")

	assert.False(t, p.ShouldRetry(1, 200, nil))
	assert.True(t, p.ShouldRetry(1, 0, failure))
	assert.True(t, p.ShouldRetry(2, 503, failure))
	assert.False(t, p.ShouldRetry(3, 503, failure))

	assert.False(t, p.ShouldRetry(1, 410, failure))
	assert.True(t, p.ShouldRetry(1, 429, failure))
	assert.True(t, p.ShouldRetry(1, 408, failure))
}

func TestPermanent(t *testing.T) {
	for code, want := range map[int]bool{0: false, 400: true, 401: true, 404: true, 408: false, 429: false, 500: false, 503: false} {
		assert.Equal(t, want, Permanent(code), "status %d", code)
	}
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextRetryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(4*time.Second), p.NextRetryTime(now, 3))
}
