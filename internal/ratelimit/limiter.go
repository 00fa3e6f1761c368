package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key (a Steam id for uploads)
type Limiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows perHour events per key with bursts of up to burst.
func NewLimiter(perHour int, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(float64(perHour) / 3600.0),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = l.now()

	return e.limiter
}

// Allow reports whether an event for key may happen now and consumes a token.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).AllowN(l.now(), 1)
}

// Tokens returns the tokens currently available for key.
func (l *Limiter) Tokens(key string) float64 {
	return l.get(key).TokensAt(l.now())
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	return l.burst
}

// Prune forgets keys idle for longer than idle. Their buckets would be full
// again by then.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
