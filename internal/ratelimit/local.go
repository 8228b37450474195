package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is the in-process fallback used when no Redis is configured.
// State is per replica.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localEntry
	idleTTL time.Duration
	now     func() time.Time
}

type localEntry struct {
	lim      *rate.Limiter
	bucket   Bucket
	lastSeen time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*localEntry),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	scope, subject = normalize(scope, subject)
	key := scope + ":" + subject
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictIdle(now)
	e, ok := l.buckets[key]
	if !ok || e.bucket != bucket {
		e = &localEntry{
			lim:    rate.NewLimiter(rate.Limit(float64(bucket.RequestsPerMinute)/60.0), bucket.BurstSize),
			bucket: bucket,
		}
		l.buckets[key] = e
	}
	e.lastSeen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Minute}, nil
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return Decision{Allowed: true, Remaining: int(math.Floor(e.lim.TokensAt(now)))}, nil
	}
	r.CancelAt(now)
	return Decision{Allowed: false, RetryAfter: roundUpSecond(delay)}, nil
}

// evictIdle must be called with mu held.
func (l *LocalLimiter) evictIdle(now time.Time) {
	for k, e := range l.buckets {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}
