package auth

import (
	"fmt"
	"sync"
)

// Registry is an ordered list of credentials. Insertion order is priority order.
type Registry struct {
	mu      sync.RWMutex
	entries []Credential
}

// NewRegistry returns a registry holding entries in the given order.
func NewRegistry(entries ...Credential) *Registry {
	return &Registry{entries: append([]Credential(nil), entries...)}
}

// FromConfig compiles every entry, failing on the first invalid one.
func FromConfig(cfgs []Config) (*Registry, error) {
	r := NewRegistry()
	for i, cfg := range cfgs {
		c, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("credentials[%d]: %w", i, err)
		}
		r.Add(c)
	}
	return r, nil
}

// Add appends c at the lowest priority.
func (r *Registry) Add(c Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, c)
}

// Resolve returns the first credential whose pattern fully matches url.
func (r *Registry) Resolve(url string) (Credential, bool) {
	if r == nil || url == "" {
		return Credential{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.entries {
		if c.Matches(url) {
			return c, true
		}
	}
	return Credential{}, false
}

// Len returns the number of registered credentials.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns a copy of the entries in priority order.
func (r *Registry) All() []Credential {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Credential(nil), r.entries...)
}
