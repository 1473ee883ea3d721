package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRateLimiterRefill tests that the bucket empties at the burst size and
// refills over time up to its capacity.
func TestRateLimiterRefill(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second}, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "frame %d within burst", i)
	}
	assert.False(t, rl.allow())

	now = now.Add(time.Second)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow())
	}
	assert.False(t, rl.allow(), "refill is capped at the burst size")
}

// TestRateLimiterDefaults tests that invalid settings fall back to a usable bucket.
func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{}, nil)
	assert.True(t, rl.allow())
}
