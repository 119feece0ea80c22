package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownKind is returned when no handler is registered for a task.
var ErrUnknownKind = errors.New("dispatch: no handler for task kind")

// HandlerFunc processes one task.
type HandlerFunc func(ctx context.Context, task Task) error

// Registry maps task kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]HandlerFunc)}
}

// RegisterHandler binds fn to kind, replacing any previous handler.
func (r *Registry) RegisterHandler(kind Kind, fn HandlerFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Has reports whether kind has a handler.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Handle runs the handler for task.Kind. Panics are returned as errors.
func (r *Registry) Handle(ctx context.Context, task Task) (err error) {
	r.mu.RLock()
	fn, ok := r.handlers[task.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("dispatch: %s handler panicked: %v", task.Kind, p)
		}
	}()
	return fn(ctx, task)
}
