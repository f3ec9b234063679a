// Package retrypolicy implements the dispatcher's backoff schedule: a
// pure function from attempt count to next-attempt delay, plus the
// retry-eligibility predicate. It is deliberately independent of the
// wbf/retry.Strategy used elsewhere for transient infra retries — this
// one governs the domain-level outbox schedule persisted in
// next_attempt_utc and must be reproducible given its parameters and a
// random source.
package retrypolicy

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy computes exponential backoff with bounded jitter.
//
//	delay(n) = clamp(base * 2^n, 1, max) + J
//	J = expDelay * jitterFactor * (U - 0.5),  U ~ Uniform(0,1)
//
// With JitterFactor == 0 the result is exact: base, 2*base, 4*base, ...
// capped at Max.
type Policy struct {
	Base          time.Duration
	Max           time.Duration
	JitterFactor  float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// Default returns the policy's documented defaults: 5s base, 300s cap,
// 0.3 jitter factor.
func Default() *Policy {
	return New(5*time.Second, 300*time.Second, 0.3)
}

// New builds a Policy with an independently seeded random source so
// concurrent dispatcher workers never share (and contend on) the global
// math/rand state.
func New(base, max time.Duration, jitterFactor float64) *Policy {
	return &Policy{
		Base:         base,
		Max:          max,
		JitterFactor: jitterFactor,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the backoff for the given completed-attempt count,
// truncated to an integer number of seconds, never less than one second.
// Safe for concurrent use.
func (p *Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	exp := float64(p.Base) * math.Pow(2, float64(retryCount))
	capped := math.Min(math.Max(exp, float64(time.Second)), float64(p.Max))

	jitter := 0.0
	if p.JitterFactor > 0 {
		jitter = capped * p.JitterFactor * (p.nextFloat() - 0.5)
	}

	d := time.Duration(capped + jitter)
	if d < time.Second {
		d = time.Second
	}

	return d.Truncate(time.Second)
}

func (p *Policy) nextFloat() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64()
}

// ShouldRetry reports whether another attempt is permitted.
func ShouldRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}
