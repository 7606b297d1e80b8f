package agent

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// ErrNilFactory is returned when a factory produces a nil engine without
// reporting an error.
var ErrNilFactory = errors.New("agent: factory returned nil engine")

// EngineFactory creates an Engine for a session, optionally resuming a
// persisted state blob carried in opts.
type EngineFactory func(opts EngineOptions) (Engine, error)

// Registry manages engine factories keyed by engine type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]EngineFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]EngineFactory),
	}
}

// Register adds an engine factory for an engine type.
func (r *Registry) Register(engineType string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[engineType] = factory
}

// Create instantiates an engine of the given type.
func (r *Registry) Create(engineType string, opts EngineOptions) (Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[engineType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", engineType, ErrUnknownEngine)
	}

	engine, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", engineType, err)
	}
	if engine == nil {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", engineType, ErrNilFactory)
	}

	return engine, nil
}

// Available returns registered engine type names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.factories {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
