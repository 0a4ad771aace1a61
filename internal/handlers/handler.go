// Package handlers holds the job handlers the worker runs.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// Handler processes jobs of a specific kind.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
	Kind() string
}

// FailureHook is implemented by handlers that need to react once a job has
// exhausted its attempts. It must not panic or block for long.
type FailureHook interface {
	Failed(ctx context.Context, job *domain.Job, err error)
}

// Registry maps job kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get returns the handler for the given job kind.
// Returns InvalidJobKindError if not registered.
func (r *Registry) Get(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, &domain.InvalidJobKindError{Kind: kind}
	}
	return h, nil
}

// DecodeCommand returns the typed command for the job kinds this package
// knows, and nil for any other kind. The router and the worker both use it
// so they derive the same tracking identity for a job.
func DecodeCommand(job *domain.Job) (any, error) {
	switch job.Kind {
	case JobKindExecute:
		var cmd ExecuteCommand
		if err := json.Unmarshal(job.Payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", job.Kind, err)
		}
		return &cmd, nil
	case actions.JobKindDeliver:
		var cmd actions.DeliveryCommand
		if err := json.Unmarshal(job.Payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", job.Kind, err)
		}
		return &cmd, nil
	}
	return nil, nil
}
