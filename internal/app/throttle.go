package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits login attempts per client key.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perSecond attempts per key with the given burst. A
// non-positive rate disables throttling.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limiters: make(map[string]*throttleEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (t *Throttle) Allow(key string) bool {
	if t == nil || t.rate <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Sweep forgets keys idle for longer than idle.
func (t *Throttle) Sweep(idle time.Duration) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-idle)
	n := 0
	for k, e := range t.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(t.limiters, k)
			n++
		}
	}
	return n
}
