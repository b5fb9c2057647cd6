// Package ratelimit limits how often each user may perform an action.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	sweepAt time.Time
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerMinute creates a limiter allowing n actions per minute per key, with a
// burst of n. n <= 0 disables limiting.
func PerMinute(n int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		burst:   n,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
	if n > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(n))
	} else {
		l.limit = rate.Inf
	}
	return l
}

// Allow reports whether key may act now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RetryAfter estimates how long key must wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || l.limit == rate.Inf {
		return 0
	}
	now := l.now()
	r := b.limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

// sweep drops buckets idle long enough to have refilled completely.
func (l *Limiter) sweep(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, k)
		}
	}
	l.sweepAt = now.Add(l.idle)
}
