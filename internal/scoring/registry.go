package scoring

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// ScriptUMLS is the name the blended df scorer is registered under.
const ScriptUMLS = "umls_score"

// Factory builds a Scorer from the request parameters. It is called once per
// query.
type Factory func(params map[string]any) (Scorer, error)

// Registry maps script names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in scripts registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ScriptUMLS, func(params map[string]any) (Scorer, error) {
		return FromParams(params)
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New constructs the scorer registered under name.
func (r *Registry) New(name string, params map[string]any) (Scorer, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownScript, name)
	}
	scorer, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("building script %q: %w", name, err)
	}
	return scorer, nil
}

// Names lists the registered script names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
