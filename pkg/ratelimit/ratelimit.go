// Package ratelimit implements a per-API-key token bucket, keyed by API
// key id instead of client IP, with an optional per-key RPS/burst
// override.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits is the fallback RPS/burst applied to a key with no override.
type Limits struct {
	RPS   float64
	Burst int
}

// visitor tracks one key's limiter and last-seen time, for janitor eviction.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per API key id.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	defaults Limits

	idleTimeout time.Duration
	stop        chan struct{}
}

// New creates a Limiter with the given default limits and starts its
// background janitor, which evicts keys idle for more than idleTimeout.
func New(defaults Limits, idleTimeout time.Duration) *Limiter {
	l := &Limiter{
		visitors:    make(map[string]*visitor),
		defaults:    defaults,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Close stops the background janitor goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}

// Allow reports whether a request for keyID (optionally overridden by
// limits) may proceed, consuming one token if so.
func (l *Limiter) Allow(keyID string, override *Limits) bool {
	return l.limiterFor(keyID, override).Allow()
}

func (l *Limiter) limiterFor(keyID string, override *Limits) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[keyID]
	if ok {
		v.lastSeen = time.Now()
		return v.limiter
	}

	lim := l.defaults
	if override != nil {
		lim = *override
	}
	limiter := rate.NewLimiter(rate.Limit(lim.RPS), lim.Burst)
	l.visitors[keyID] = &visitor{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// janitor evicts keys idle past idleTimeout every idleTimeout/3, bounding
// the visitors map's size under a long-running process with API key
// churn.
func (l *Limiter) janitor() {
	interval := l.idleTimeout / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for id, v := range l.visitors {
				if time.Since(v.lastSeen) > l.idleTimeout {
					delete(l.visitors, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
