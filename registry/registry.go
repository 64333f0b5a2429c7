// Package registry implements the two process-wide provider registries named
// in spec.md §6: "clients" and "servers". Each accepts (name, factory) pairs
// and exposes lookup(name) — the structure mirrors the teacher's xact/xreg
// registry (a name-keyed map guarded by its own mutex, never held across
// user callbacks) scaled down to the spec's much narrower surface: no
// renew/abort/snapshot machinery, just registration and lookup.
package registry

import (
	"sync"

	"github.com/pkg/errors"
)

// Factory builds a provider instance from its name and an opaque config
// value (the concrete type is owned by the registrant, e.g. client.Config).
type Factory func(name string, config any) (any, error)

// Registry is a name -> Factory map guarded by its own mutex (spec.md §5:
// "Global maps ... are guarded by their own mutexes; never held across user
// callbacks").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func New() *Registry {
	return &Registry{factories: make(map[string]Factory, 4)}
}

// Register records factory under name. Re-registering the same name
// replaces the prior factory, matching the teacher's registries (later
// registration wins rather than erroring, since provider plugins may be
// re-registered during test setup).
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

// Lookup returns the factory registered under name, or an error if none is.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, errors.Errorf("registry: no provider factory registered under %q", name)
	}
	return f, nil
}

// Create looks up name and invokes its factory with config.
func (r *Registry) Create(name string, config any) (any, error) {
	f, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return f(name, config)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	return names
}

// Clients and Servers are the two process-wide singletons spec.md §6 names.
var (
	Clients = New()
	Servers = New()
)
