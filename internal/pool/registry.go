// Package pool manages the lifecycle of registry-provided components.
package pool

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
)

// Registry resolves component names to instances.
type Registry interface {
	Lookup(name string) (any, error)
}

// Constructor builds a component instance.
type Constructor func() (any, error)

// Scope selects how often a registration builds its component.
type Scope int

const (
	// ScopePrototype builds a new instance on every lookup.
	ScopePrototype Scope = iota
	// ScopeSingleton builds one instance on first lookup and shares it.
	ScopeSingleton
)

func (s Scope) String() string {
	if s == ScopeSingleton {
		return "singleton"
	}
	return "prototype"
}

type registration struct {
	scope Scope
	ctor  Constructor

	mu       sync.Mutex
	instance any
	built    bool
}

// get builds a prototype every time. A singleton is built once; a failed
// build is retried on the next lookup.
func (r *registration) get() (any, error) {
	if r.scope == ScopePrototype {
		return r.ctor()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return r.instance, nil
	}
	instance, err := r.ctor()
	if err != nil {
		return nil, err
	}
	r.instance, r.built = instance, true
	return instance, nil
}

// current returns the singleton instance if one was constructed.
func (r *registration) current() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instance, r.built
}

// MapRegistry is a name-keyed Registry with prototype and singleton scopes.
type MapRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	order   []string
}

// NewMapRegistry returns an empty registry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{entries: make(map[string]*registration)}
}

// Prototype registers ctor to run on every lookup of name.
func (r *MapRegistry) Prototype(name string, ctor Constructor) error {
	return r.register(name, ScopePrototype, ctor)
}

// Singleton registers ctor to run once, on the first lookup of name.
func (r *MapRegistry) Singleton(name string, ctor Constructor) error {
	return r.register(name, ScopeSingleton, ctor)
}

// Instance registers an already built component as a singleton.
func (r *MapRegistry) Instance(name string, component any) error {
	return r.register(name, ScopeSingleton, func() (any, error) { return component, nil })
}

func (r *MapRegistry) register(name string, scope Scope, ctor Constructor) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("register component: blank name: %w", crawler.ErrInvalidArgument)
	}
	if ctor == nil {
		return fmt.Errorf("register component %q: nil constructor: %w", name, crawler.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("register component %q: already registered: %w", name, crawler.ErrInvalidArgument)
	}
	r.entries[name] = &registration{scope: scope, ctor: ctor}
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the component registered under name.
func (r *MapRegistry) Lookup(name string) (any, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("component %q: %w", name, crawler.ErrComponentNotFound)
	}
	c, err := reg.get()
	if err != nil {
		return nil, fmt.Errorf("build component %q: %w", name, err)
	}
	return c, nil
}

// Names returns the registered names, sorted.
func (r *MapRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Close closes every built singleton that implements io.Closer, in reverse
// registration order. Prototype instances belong to whoever looked them up.
func (r *MapRegistry) Close() error {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var err error
	for i := len(order) - 1; i >= 0; i-- {
		r.mu.RLock()
		reg := r.entries[order[i]]
		r.mu.RUnlock()
		if reg.scope != ScopeSingleton {
			continue
		}
		instance, built := reg.current()
		if !built {
			continue
		}
		if c, ok := instance.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close component %q: %w", order[i], cerr))
			}
		}
	}
	return err
}
