// Package throttle runs an action at most once per interval.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle drops calls that arrive sooner than its interval after the last
// executed one. Each instance keeps its own state; callers own their Throttle.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	last    time.Time
	now     func() time.Time
}

// New creates a Throttle. A non-positive interval disables throttling.
func New(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Do runs fn unless the previous execution was less than one interval ago.
// It reports whether fn ran.
func (t *Throttle) Do(fn func()) bool {
	t.mu.Lock()
	now := t.now()
	if !t.limiter.AllowN(now, 1) {
		t.mu.Unlock()
		return false
	}
	t.last = now
	t.mu.Unlock()

	fn()
	return true
}

// Last returns the time of the most recent execution, or the zero time.
func (t *Throttle) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
