package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Execute for an unregistered name.
var ErrNotFound = errors.New("handler not found")

// Handler defines the signature of a named operation.
// It receives a context and a map of arguments, and returns a result or error.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Registry manages named operations, keeping their registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	names    []string
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry.
// If a handler with the same name exists, it is overwritten in place.
func (r *Registry) Register(name string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.handlers[name] = fn
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Execute looks up a handler by name and executes it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return fn(ctx, args)
}
