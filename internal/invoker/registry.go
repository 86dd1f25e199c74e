// Package invoker provides JobInvoker implementations: an in-process handler
// registry and an HTTP invoker that posts signed invocations to a target URL.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownTarget = errors.New("unknown target")

// Handler executes an invocation in-process.
type Handler func(ctx context.Context, signature string, args []byte) error

// Registry invokes handlers registered under a target identity. A target is
// invocable only while a handler is registered for it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(target string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = h
}

func (r *Registry) Deregister(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, target)
}

func (r *Registry) CanInvoke(target string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[target]
	return ok
}

func (r *Registry) Invoke(ctx context.Context, target, signature string, args []byte) error {
	r.mu.RLock()
	h, ok := r.handlers[target]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return h(ctx, signature, args)
}
