package zk

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry selects backends by name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	def      string
}

// NewRegistry registers backends in order; the first becomes the default.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	if _, ok := r.backends[name]; ok {
		return fmt.Errorf("backend %q already registered", name)
	}
	r.backends[name] = b
	if r.def == "" {
		r.def = name
	}
	return nil
}

// Get returns the named backend if it is registered and available.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q not registered", ErrBackendUnavailable, name)
	}
	if !b.Available() {
		return nil, fmt.Errorf("%w: %q", ErrBackendUnavailable, name)
	}
	return b, nil
}

func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("%w: %q not registered", ErrBackendUnavailable, name)
	}
	r.def = name
	return nil
}

func (r *Registry) Default() (Backend, error) {
	r.mu.RLock()
	name := r.def
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("%w: no backends registered", ErrBackendUnavailable)
	}
	return r.Get(name)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Verify checks p with the backend that produced it.
func (r *Registry) Verify(ctx context.Context, p *Proof, public []byte) (bool, error) {
	if err := checkShape(p); err != nil {
		return false, err
	}
	b, err := r.Get(p.Backend)
	if err != nil {
		return false, err
	}
	return b.Verify(ctx, p, public)
}
