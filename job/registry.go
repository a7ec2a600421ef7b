package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/ostler"
)

// HandlerFunc executes one job. The returned value is serialized as the
// job's result; a non-nil error routes the job through retry-or-fail.
// Callbacks share this signature: a success callback sees the job with its
// Result already set, failure and stopped callbacks have their return
// value ignored.
type HandlerFunc func(ctx context.Context, j *Job) (any, error)

// Registry maps function references to handlers. It replaces dynamic
// import-by-string: the wire format stays a plain name, but resolution
// goes through this static map populated at process startup.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a function reference to a handler. Re-registering a name
// replaces the previous handler.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Resolve returns the handler for the given function reference, or
// ErrHandlerNotFound when the name was never registered.
func (r *Registry) Resolve(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ostler.ErrHandlerNotFound, name)
	}
	return h, nil
}

// Names returns all registered function references.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
