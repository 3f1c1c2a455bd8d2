package bridge

import (
	"sync"
	"time"
)

// FrameRateLimiter allows at most limit frames per connection in any
// sliding window of interval.
type FrameRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewFrameRateLimiter(limit int, interval time.Duration) *FrameRateLimiter {
	return &FrameRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *FrameRateLimiter) Allow(id string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a closed connection.
func (rl *FrameRateLimiter) Forget(id string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
