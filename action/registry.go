// Package action holds the tenant actions that consume changed payloads, and a
// registry mapping configured action kinds to their factories.
package action

import (
	"sort"
	"sync"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

// Settings are the free-form options of one configured action.
type Settings map[string]any

// String returns the string value of key, or def when unset.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Factory builds an action from its settings.
type Factory func(settings Settings) (watch.Action, error)

// Registry maps action kinds to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in actions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindSpool, NewSpoolFromSettings)
	r.MustRegister(KindDiscard, func(Settings) (watch.Action, error) { return Discard{}, nil })
	return r
}

// Register adds a factory. Registering a kind twice is an error.
func (r *Registry) Register(kind string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return errors.Newf("action already registered for kind: %s", kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// Build instantiates the action registered for kind.
func (r *Registry) Build(kind string, settings Settings) (watch.Action, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("no action registered for kind: %s", kind)
	}
	a, err := f(settings)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s action", kind)
	}
	return a, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
