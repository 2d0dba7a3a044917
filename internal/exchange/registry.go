package exchange

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds an adapter from the venue's opaque credential map. The
// map comes straight from the [exchanges.<venue>] config section; each
// constructor documents the keys it reads.
type Constructor func(creds map[string]string) (Adapter, error)

// Registry maps venue ids to adapter constructors. Venues register themselves
// at startup (typically from an init in the wiring layer, not the venue
// package) and are resolved exactly once when the configured adapter set is
// built.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under the given venue id. Registering the same
// id twice replaces the earlier constructor.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Build constructs the adapter for a venue id.
func (r *Registry) Build(name string, creds map[string]string) (Adapter, error) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange %q is not supported (known: %v)", name, r.Names())
	}
	adapter, err := c(creds)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: construct adapter: %w", name, err)
	}
	return adapter, nil
}

// Names returns all registered venue ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
