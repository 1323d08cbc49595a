package session

import "github.com/cory-johannsen/mansion/internal/online"

// Resolver looks up the connect string for a joined session.
type Resolver struct {
	backend online.Backend
}

// NewResolver creates a Resolver over backend. backend may be nil.
func NewResolver(backend online.Backend) *Resolver {
	return &Resolver{backend: backend}
}

// Resolve returns the connect string for the named session.
//
// Postcondition: Returns "" with a nil error when the backend cannot resolve
// the session; returns ErrBackendUnavailable only when no backend is attached.
func (r *Resolver) Resolve(name string) (string, error) {
	if r.backend == nil {
		return "", ErrBackendUnavailable
	}
	addr, ok := r.backend.ResolvedConnectString(name)
	if !ok {
		return "", nil
	}
	return addr, nil
}
