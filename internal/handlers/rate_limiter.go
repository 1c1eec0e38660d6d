package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter interface {
	Allow(stationID string) bool
}

// stationLimiter keeps one token bucket per station. A bucket holds up to burst tokens and refills
// at burst per window, so a steady scanner is never throttled while a bounced read is.
type stationLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*stationBucket
}

type stationBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newStationLimiter(burst int, window time.Duration, clock func() time.Time) rateLimiter {
	if burst <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &stationLimiter{
		every:   rate.Every(window / time.Duration(burst)),
		burst:   burst,
		window:  window,
		now:     clock,
		buckets: make(map[string]*stationBucket),
	}
}

func (l *stationLimiter) Allow(stationID string) bool {
	station := strings.TrimSpace(stationID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[station]
	if !ok {
		l.evictIdle(now)
		b = &stationBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[station] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// evictIdle drops buckets that have been quiet for a full window; they would be full again anyway.
func (l *stationLimiter) evictIdle(now time.Time) {
	for station, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, station)
		}
	}
}
