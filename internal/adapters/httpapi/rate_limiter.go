package httpapi

import (
	"sync"
	"time"
)

// Join attempts allowed per client within one window. Room codes are
// four digits, so unbounded retries would make them guessable.
const (
	joinAttemptLimit  = 10
	joinAttemptWindow = time.Minute
)

// attemptLimiter is a sliding-window counter keyed by client token.
type attemptLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func newAttemptLimiter(limit int, interval time.Duration) *attemptLimiter {
	return &attemptLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *attemptLimiter) allow(token string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[token]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[token] = fresh
		return false
	}
	fresh = append(fresh, now)
	rl.history[token] = fresh
	return true
}
