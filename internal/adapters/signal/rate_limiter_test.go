package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOfferRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewOfferRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per remote")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
	assert.NotContains(t, rl.history, "b", "idle remotes are pruned")
}

func TestOfferRateLimiterDisabled(t *testing.T) {
	rl := NewOfferRateLimiter(0, time.Second)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("a"))
	}
	var nilLimiter *OfferRateLimiter
	assert.True(t, nilLimiter.Allow("a"))
}
