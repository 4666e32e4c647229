package supervisor

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrCameraNotFound is returned for ids with no mounted supervisor.
	ErrCameraNotFound = errors.New("camera not found")

	// ErrDuplicateCamera is returned when a camera id is mounted twice.
	ErrDuplicateCamera = errors.New("camera already registered")
)

// Registry indexes supervisors by camera id. Each supervisor is independent;
// the registry only guards the map.
type Registry struct {
	mu   sync.RWMutex
	sups map[CameraID]*Supervisor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sups: make(map[CameraID]*Supervisor),
	}
}

// Add mounts s under its camera id.
func (r *Registry) Add(s *Supervisor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sups[s.ID()]; exists {
		return ErrDuplicateCamera
	}
	r.sups[s.ID()] = s
	return nil
}

// Get returns the supervisor for id.
func (r *Registry) Get(id CameraID) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sups[id]
	return s, ok
}

// Remove unmounts id and returns its supervisor so the caller can close it.
func (r *Registry) Remove(id CameraID) (*Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sups[id]
	if ok {
		delete(r.sups, id)
	}
	return s, ok
}

// List returns all supervisors ordered by camera id.
func (r *Registry) List() []*Supervisor {
	r.mu.RLock()
	out := make([]*Supervisor, 0, len(r.sups))
	for _, s := range r.sups {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of mounted supervisors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sups)
}
