package breaker

import "sync"

// Registry manages a named collection of Breakers, one per downstream
// dependency, so call sites can share breakers by name instead of
// threading *Breaker values through every layer that might need one.
//
// Grounded on the teacher's sibling resilience manager
// (TheEntropyCollective-noisefs/pkg/resilience/resilience_manager.go),
// generalized from that type's single embedded CircuitBreaker plus a
// grab-bag of unrelated health/connection/network managers down to just
// the part the Runtime core actually needs: a name-keyed Breaker
// registry.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry whose breakers, when newly created,
// use cfg as their default configuration.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the named Breaker, creating it with the
// Registry's default Config if it doesn't yet exist.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(r.cfg)
		r.breakers[name] = b
	}
	return b
}

// Get returns the named Breaker and whether it exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names returns every currently registered breaker name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// Snapshot returns every breaker's Stats keyed by name.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}
