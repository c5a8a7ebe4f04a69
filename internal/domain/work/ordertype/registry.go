// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ordertype

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// Registry maps type ids to OrderType instances. It is populated at boot and
// read-mostly afterwards.
type Registry struct {
	mu    sync.RWMutex
	types map[string]OrderType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]OrderType)}
}

// Register adds a type. Duplicate registration is a programming error.
func (r *Registry) Register(t OrderType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := t.Type()
	if _, exists := r.types[id]; exists {
		return fmt.Errorf("order type %q already registered", id)
	}
	r.types[id] = t
	return nil
}

// MustRegister panics on duplicate registration; boot-time convenience.
func (r *Registry) MustRegister(t OrderType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Resolve returns the type for id or model.ErrOrderTypeNotFound.
func (r *Registry) Resolve(id string) (OrderType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrOrderTypeNotFound, id)
	}
	return t, nil
}

// IDs lists registered type ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
