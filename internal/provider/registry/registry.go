// Package registry implements the provider registry (C4): a
// case-insensitive, finite map from platform name to provider.Provider,
// built once at startup from configuration — no runtime reflection, no
// DI container, mirroring the teacher's plain map-of-interfaces wiring
// in cmd/notifier/main.go.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// Registry is a finite, case-insensitive provider lookup table.
type Registry struct {
	byPlatform map[string]provider.Provider
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{byPlatform: make(map[string]provider.Provider)}
}

// Register adds a provider under platform (case-insensitive). Registering
// the same platform twice is a construction-time programming error.
func (r *Registry) Register(platform string, p provider.Provider) error {
	key := normalize(platform)
	if key == "" {
		return fmt.Errorf("registry: empty platform name")
	}

	if _, exists := r.byPlatform[key]; exists {
		return fmt.Errorf("registry: platform %q already registered", platform)
	}

	r.byPlatform[key] = p
	return nil
}

// MustRegister panics on error; used for static startup wiring where a
// duplicate registration is a programming bug, not a runtime condition.
func (r *Registry) MustRegister(platform string, p provider.Provider) {
	if err := r.Register(platform, p); err != nil {
		panic(err)
	}
}

// Lookup returns the provider registered for platform, or ok=false if
// platform is empty or unregistered. Callers (the dispatcher) treat a
// miss as a terminal PlatformNotSupported failure.
func (r *Registry) Lookup(platform string) (provider.Provider, bool) {
	key := normalize(platform)
	if key == "" {
		return nil, false
	}

	p, ok := r.byPlatform[key]
	return p, ok
}

// Platforms returns the registered platform names, sorted for stable
// output (e.g. in a diagnostics endpoint).
func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.byPlatform))
	for k := range r.byPlatform {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func normalize(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
