// Package fake implements a no-I/O Provider used for local development.
// It fails a small, configurable fraction of calls at random with
// ServiceUnavailable so retry/dead-letter paths are exercised without a
// real backend.
package fake

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// DefaultFailureRate matches the spec's "~5%" transient failure target.
const DefaultFailureRate = 0.05

// Provider is the Fake push backend.
type Provider struct {
	FailureRate float64
}

// New returns a Fake provider with the default failure rate.
func New() *Provider {
	return &Provider{FailureRate: DefaultFailureRate}
}

func (p *Provider) Name() string { return "fake" }

// Send logs the call and, at random, fails about FailureRate of the
// time with a retryable ServiceUnavailable, otherwise succeeds.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	zlog.Logger.Info().
		Str("provider", "fake").
		Str("token", token).
		Str("title", title).
		Msg("fake provider send")

	if p.roll() < p.FailureRate {
		return provider.Failure(model.CategoryServiceUnavailable, 503, "fake provider: simulated transient failure")
	}

	return provider.Success()
}

// roll returns a uniform float in [0,1) using a CSPRNG so the fake
// provider's failures are not predictable across process restarts —
// cheap enough here since it is one call per Send, never a hot loop.
// If the CSPRNG read fails it returns 1, which is never below
// FailureRate, so the send is not failed.
func (p *Provider) roll() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1 // fail open: never block a send because rand failed
	}

	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}
