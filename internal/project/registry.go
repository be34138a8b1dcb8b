package project

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotRegistered is returned when a project id is not in the registry.
var ErrNotRegistered = errors.New("project not registered")

// ErrAlreadyRegistered is returned when registering a root twice.
var ErrAlreadyRegistered = errors.New("project already registered")

// Registry holds the set of registered projects. It replaces the original
// environment-variable-driven watch list with an explicit register/unregister
// API.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project // keyed by collection id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{projects: make(map[string]*Project)}
}

// Register adds a project to the registry.
func (r *Registry) Register(p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; ok {
		return ErrAlreadyRegistered
	}
	r.projects[p.ID] = p
	return nil
}

// Unregister removes a project by id and returns it.
func (r *Registry) Unregister(id string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrNotRegistered
	}
	delete(r.projects, id)
	return p, nil
}

// Get returns a project by id.
func (r *Registry) Get(id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrNotRegistered
	}
	return p, nil
}

// ByRoot returns the project registered for the given absolute root, if any.
func (r *Registry) ByRoot(absRoot string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.projects {
		if p.Root == absRoot {
			return p, true
		}
	}
	return nil, false
}

// List returns all registered projects ordered by root path.
func (r *Registry) List() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}
