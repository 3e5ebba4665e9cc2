package swarm

import (
	"sync"
	"time"
)

// AIMD sizes the pull-loop pool from per-message latency. Fast messages add
// one worker; throttling halves the pool and very slow messages shrink it
// by a quarter, since a backbone that outlives its lease is redelivered.
type AIMD struct {
	mu       sync.Mutex
	limit    int
	floor    int
	ceil     int
	target   time.Duration
	cooldown time.Duration
	changed  time.Time
	now      func() time.Time
}

// NewAIMD clamps start into [floor, ceil] with a one second latency target.
func NewAIMD(start, floor, ceil int) *AIMD {
	floor = max(floor, 1)
	ceil = max(ceil, floor)
	return &AIMD{
		limit:    min(max(start, floor), ceil),
		floor:    floor,
		ceil:     ceil,
		target:   time.Second,
		cooldown: 100 * time.Millisecond,
		changed:  time.Now(),
		now:      time.Now,
	}
}

// Limit is the current worker target.
func (a *AIMD) Limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

// SetTarget changes the per-message latency below which the pool grows.
func (a *AIMD) SetTarget(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.target = d
	a.mu.Unlock()
}

// Observe records one productive or throttled step.
func (a *AIMD) Observe(perMessage time.Duration, throttled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.changed) < a.cooldown {
		return
	}

	next := a.limit
	switch {
	case throttled:
		next = a.limit / 2
	case perMessage > 2*a.target:
		next = a.limit * 3 / 4
	case perMessage < a.target:
		next = a.limit + 1
	}
	next = min(max(next, a.floor), a.ceil)
	if next != a.limit {
		a.limit = next
		a.changed = now
	}
}
