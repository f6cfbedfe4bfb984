package common

import (
	"sync"
	"time"
)

// IdleGate lets an action through at most once per period. It is used to
// rate limit background recomputation that is requested far more often than
// it needs to run.
type IdleGate struct {
	mu     sync.Mutex
	period time.Duration
	last   time.Time
	now    func() time.Time
}

// NewIdleGate creates a gate that opens once per period. A nil now uses
// time.Now.
func NewIdleGate(period time.Duration, now func() time.Time) *IdleGate {
	if now == nil {
		now = time.Now
	}
	return &IdleGate{period: period, now: now}
}

// Allow reports whether the period has elapsed since the last allowed call and,
// if so, starts a new period.
func (g *IdleGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.period {
		return false
	}
	g.last = now
	return true
}

// Period returns the minimum time between allowed calls
func (g *IdleGate) Period() time.Duration {
	return g.period
}

// Last returns when the gate last opened, or the zero time if it never did
func (g *IdleGate) Last() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
