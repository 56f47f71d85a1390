// Package ratelimit admits or rejects requests per identity key using fixed
// window counters.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts a request against key and decides admission. The increment
// and the check happen atomically.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Policy is a request budget per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) decide(count int, resetAt, now time.Time) Decision {
	d := Decision{
		Allowed:   count <= p.Limit,
		Limit:     p.Limit,
		Remaining: max(p.Limit-count, 0),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(resetAt.Sub(now), 0)
	}
	return d
}

// KeyFor picks the most specific bucket for a caller.
func KeyFor(id *domain.Identity, clientIP string) string {
	switch {
	case id != nil && id.APIKeyID != "":
		return "key:" + id.APIKeyID
	case id != nil && id.User.ID != "":
		return "user:" + id.User.ID
	default:
		return "ip:" + clientIP
	}
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process. Suitable for a single replica.
type MemoryLimiter struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{policy: policy, now: time.Now, windows: make(map[string]*window)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.policy.Window)}
		l.windows[key] = w
	}
	w.count++
	return l.policy.decide(w.count, w.resetAt, now), nil
}

// Sweep drops expired windows and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
