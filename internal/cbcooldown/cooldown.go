// Package cbcooldown rate-limits posting: each source address gets a fixed
// cooldown between thread creations and replies. State is in-memory only and
// intentionally never persisted; this is best-effort abuse mitigation, not
// accounting.
package cbcooldown

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a fixed per-address posting cooldown. A zero (or
// negative) cooldown disables limiting entirely. The address map grows with
// distinct visitors and is never reaped, an accepted cost at board scale.
type Limiter struct {
	cooldown time.Duration
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func NewLimiter(cooldown time.Duration) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether addr may post right now, consuming its slot if so.
func (l *Limiter) Allow(addr string) bool {
	return l.AllowAt(time.Now(), addr)
}

// AllowAt is Allow at an explicit instant, injectable for tests.
func (l *Limiter) AllowAt(now time.Time, addr string) bool {
	if l.cooldown <= 0 {
		return true
	}

	return l.visitor(addr).AllowN(now, 1)
}

func (l *Limiter) visitor(addr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.visitors[addr]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.cooldown), 1)
		l.visitors[addr] = limiter
	}

	return limiter
}
