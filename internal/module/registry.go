// Package module implements the service module loader: a registry of named
// factories that produce service instances for the kernel to host.
package module

import (
	"fmt"
	"sync"

	"github.com/rushrushgogogo/skynet/internal/core"
)

// Factory produces instances of one named service module.
type Factory struct {
	name   string
	create func() (core.Service, error)
}

// NewFactory wraps a constructor as a loadable module.
func NewFactory(name string, create func() (core.Service, error)) *Factory {
	return &Factory{name: name, create: create}
}

// Name returns the module name services are launched by.
func (f *Factory) Name() string { return f.name }

// Create asks the module for a fresh instance; the module may refuse.
func (f *Factory) Create() (core.Service, error) {
	inst, err := f.create()
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", f.name, err)
	}
	return inst, nil
}

// Registry resolves module names for the kernel. It implements [core.Loader].
type Registry struct {
	mu      sync.RWMutex
	modules map[string]core.Factory
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]core.Factory)}
}

// Add registers a factory under its module name, replacing any previous one.
func (r *Registry) Add(f core.Factory) {
	r.mu.Lock()
	r.modules[f.Name()] = f
	r.mu.Unlock()
}

// Query resolves name to its factory.
func (r *Registry) Query(name string) (core.Factory, bool) {
	r.mu.RLock()
	f, ok := r.modules[name]
	r.mu.RUnlock()
	return f, ok
}
