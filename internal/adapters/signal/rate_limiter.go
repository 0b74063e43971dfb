package signal

import (
	"sync"
	"time"
)

// OfferRateLimiter is a sliding window limiter keyed by remote id.
type OfferRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewOfferRateLimiter(limit int, interval time.Duration) *OfferRateLimiter {
	return &OfferRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for remoteID and reports whether it fits the window.
// A non-positive limit disables limiting.
func (rl *OfferRateLimiter) Allow(remoteID string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[remoteID]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[remoteID] = fresh
		return false
	}

	rl.history[remoteID] = append(fresh, now)
	rl.prune(windowStart)
	return true
}

// prune drops peers with no attempt inside the window.
func (rl *OfferRateLimiter) prune(windowStart time.Time) {
	for id, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, id)
		}
	}
}
