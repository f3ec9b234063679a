// Package middleware holds HTTP middleware that sits ahead of the
// ingest handler: a per-client-IP token bucket so a retrying client
// cannot starve the outbox's unique idempotency-key check (spec §5
// ambient additions).
package middleware

import (
	"errors"
	"net/http"
	"sync"

	"github.com/wb-go/wbf/ginext"
	"golang.org/x/time/rate"

	"github.com/pushbox/outbox-dispatcher/internal/api/respond"
)

var errRateLimited = errors.New("rate limit exceeded")

// RateLimiter lazily creates and caches one token bucket per client IP.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter builds a RateLimiter allowing rps requests per second
// with burst headroom, per client IP.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limiters[ip]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok = rl.limiters[ip]; ok {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rps, rl.burst)
	rl.limiters[ip] = limiter
	return limiter
}

// Middleware returns a gin-compatible handler that rejects with 429 once
// a client IP's bucket is exhausted, before the request reaches decode
// or validation.
func (rl *RateLimiter) Middleware() func(*ginext.Context) {
	return func(c *ginext.Context) {
		if !rl.limiterFor(c.ClientIP()).Allow() {
			respond.Fail(c.Writer, http.StatusTooManyRequests, errRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
