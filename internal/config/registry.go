package config

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/MrWong99/scoreflow/pkg/audio/device"
)

// ErrBackendNotRegistered is returned by [Registry.CreateOutput] when no
// factory has been registered under the requested device name.
var ErrBackendNotRegistered = errors.New("config: output backend not registered")

// OutputFactory builds an output that plays src according to cfg.
type OutputFactory func(cfg OutputConfig, src io.Reader) (device.Output, error)

// Registry maps output backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	output map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{output: make(map[string]OutputFactory)}
}

// RegisterOutput registers an output factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterOutput(name string, factory OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateOutput instantiates the output registered under cfg.Device.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateOutput(cfg OutputConfig, src io.Reader) (device.Output, error) {
	r.mu.RLock()
	factory, ok := r.output[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Device)
	}
	return factory(cfg, src)
}

// Outputs returns the registered backend names in order.
func (r *Registry) Outputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.output))
	for name := range r.output {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
