package server

import (
	"sync"
	"time"
)

// Limiter is a per-key token bucket: perMin tokens replenished continuously
// over a minute, burst capped at perMin. Idle buckets are pruned so the map
// does not grow with one entry per client forever.
type Limiter struct {
	perMin int
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	sweepAt time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

const (
	bucketIdleTTL = 10 * time.Minute
	sweepInterval = time.Minute
)

// NewLimiter creates a limiter allowing perMin requests per minute per key.
func NewLimiter(perMin int) *Limiter {
	return &Limiter{
		perMin:  perMin,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether one request for key fits the budget, consuming a
// token when it does.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(sweepInterval)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.perMin)}
		l.buckets[key] = b
	} else {
		refill := now.Sub(b.lastSeen).Minutes() * float64(l.perMin)
		b.tokens = min(b.tokens+refill, float64(l.perMin))
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(l.buckets, key)
		}
	}
}
