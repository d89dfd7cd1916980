// Package ratelimit provides an in-memory sliding-window rate limiter used
// to cap OTP issuance and login attempts per key. Single-process only; a
// distributed deployment would back this with Redis.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most limit events per key within a sliding window.
type Limiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	window  time.Duration
	limit   int

	// now is a seam for testing.
	now func() time.Time
}

func NewLimiter(window time.Duration, limit int) *Limiter {
	return &Limiter{
		entries: make(map[string][]time.Time),
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

// Allow records an event for key and reports whether it stayed within the
// limit, along with how long until the oldest event ages out of the window.
// The duration is zero when allowed; denied events are not recorded.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.prune(key, now)
	if len(valid) >= l.limit {
		l.entries[key] = valid
		return false, valid[0].Add(l.window).Sub(now)
	}
	l.entries[key] = append(valid, now)
	return true, 0
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Cleanup drops keys whose events all aged out. Call periodically to bound
// memory.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.entries {
		if valid := l.prune(key, now); len(valid) == 0 {
			delete(l.entries, key)
		} else {
			l.entries[key] = valid
		}
	}
}

func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	var valid []time.Time
	for _, t := range l.entries[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
