package middleware

import (
	"context"
	"sync"
	"time"
)

const (
	limiterWindow     = time.Minute
	limiterSweepEvery = 1024
	limiterMaxWindows = 10000
)

type window struct {
	start time.Time
	count int
}

// RateLimiter counts requests per key in fixed one-minute windows inside
// this process. It backs the per-IP limit, which does not need to be
// shared across instances.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	checks  int
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Check(_ context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.checks++
	if rl.checks%limiterSweepEvery == 0 || len(rl.windows) > limiterMaxWindows {
		rl.sweep(now)
	}

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= limiterWindow {
		w = &window{start: now}
		rl.windows[key] = w
	}
	resetAt = w.start.Add(limiterWindow).Unix()

	if w.count >= limit {
		return false, 0, resetAt
	}
	w.count++
	return true, limit - w.count, resetAt
}

// sweep drops expired windows. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, w := range rl.windows {
		if now.Sub(w.start) >= limiterWindow {
			delete(rl.windows, key)
		}
	}
}
