package ingest

import (
	"sync"

	"github.com/google/uuid"
)

// Factory builds the Reconciler for one user.
type Factory func(user uuid.UUID) *Reconciler

// Registry keeps one Reconciler per signed-in user.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	flows   map[uuid.UUID]*Reconciler
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, flows: make(map[uuid.UUID]*Reconciler)}
}

// Get returns the user's Reconciler, creating it on first use.
func (r *Registry) Get(user uuid.UUID) *Reconciler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.flows[user]; ok {
		return rec
	}
	rec := r.factory(user)
	r.flows[user] = rec
	return rec
}

// Drop forgets the user's flow, e.g. on sign-out.
func (r *Registry) Drop(user uuid.UUID) {
	r.mu.Lock()
	delete(r.flows, user)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}
