package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

type stubProvider struct{}

func (stubProvider) Send(context.Context, string, string, string, map[string]string) provider.Result {
	return provider.Success()
}

func TestRegister_CaseInsensitiveLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("Fake", stubProvider{}))

	p, ok := r.Lookup("fAKE")
	assert.True(t, ok)
	assert.NotNil(t, p)
}

func TestRegister_Duplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("fake", stubProvider{}))

	err := r.Register("FAKE", stubProvider{})
	assert.Error(t, err)
}

func TestLookup_UnknownOrEmpty(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("fake", stubProvider{}))

	_, ok := r.Lookup("unknown")
	assert.False(t, ok)

	_, ok = r.Lookup("")
	assert.False(t, ok)
}
