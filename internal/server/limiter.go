package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client key.
type clientLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*limiterEntry
	now     func() time.Time
	sweptAt time.Time
}

func newClientLimiters(perSecond float64, burst int) *clientLimiters {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiters{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// allow takes a token for key. When none is available it returns the time until one will be.
func (c *clientLimiters) allow(key string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)

	entry, ok := c.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (c *clientLimiters) sweep(now time.Time) {
	if now.Sub(c.sweptAt) < limiterIdleTTL {
		return
	}
	c.sweptAt = now
	for key, entry := range c.clients {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(c.clients, key)
		}
	}
}
