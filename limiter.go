package loomws

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter caps the inbound message rate per connection using a token
// bucket. Connections are enrolled by the Upgrader on accept and dropped
// again when they close.
type RateLimiter struct {
	clients map[*Conn]*rate.Limiter
	mu      sync.RWMutex
	// Messages allowed per second.
	mps int
	// Burst allowance.
	burst int
	// Called when a connection exceeds the limit. Returning a non-nil
	// error closes the connection; returning nil lets the message through.
	OnLimit func(conn *Conn) error
}

func NewRateLimiter(mps, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[*Conn]*rate.Limiter),
		mps:     mps,
		burst:   burst,
	}
}

func (rl *RateLimiter) getLimiter(c *Conn) *rate.Limiter {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.clients[c]
}

func (rl *RateLimiter) addClient(c *Conn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.clients[c] = rate.NewLimiter(rate.Limit(rl.mps), rl.burst)
}

func (rl *RateLimiter) removeClient(c *Conn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, c)
}

func (rl *RateLimiter) allow(c *Conn) bool {
	l := rl.getLimiter(c)
	if l == nil {
		return true
	}

	return l.Allow()
}

func (rl *RateLimiter) onLimit(c *Conn) error {
	if rl.OnLimit != nil {
		return rl.OnLimit(c)
	}
	return ErrRateLimitExceeded
}
