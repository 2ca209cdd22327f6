package api

import (
	"math"
	"strconv"
	"sync"
	"time"

	"studiobook/internal/config"

	"golang.org/x/time/rate"
)

const (
	defaultClientBurst = 5
	clientIdleAfter    = 10 * time.Minute
)

// clientLimiter rations calls per authenticated client. Clients idle for
// clientIdleAfter are forgotten on the next sweep.
type clientLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

func newClientLimiter(cfg config.APIRateLimitConfig) *clientLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultClientBurst
	}
	return &clientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		now:     time.Now,
	}
}

// admit reports whether the client may call now. A refused call gets the
// wait until its next token; the refused call does not consume one.
func (l *clientLimiter) admit(client string) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	now := l.now()
	r := l.bucket(client, now).ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *clientLimiter) bucket(client string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= clientIdleAfter {
		for key, b := range l.clients {
			if now.Sub(b.seen) >= clientIdleAfter {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.seen = now
	return b.tokens
}

func (l *clientLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// retryAfterSeconds renders a wait as a Retry-After value, at least one second.
func retryAfterSeconds(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
