// Package actions delivers execution outcomes to user-configured external
// endpoints: webhooks, Slack and email.
package actions

import (
	"context"
	"sort"
	"sync"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// Result is what a provider reports after a delivery attempt.
type Result struct {
	StatusCode int    `json:"status_code,omitempty"`
	Response   string `json:"response,omitempty"`
}

// Provider performs one delivery of an output action.
// vars is the template context the action's config is resolved against.
type Provider interface {
	Name() string
	Execute(ctx context.Context, action *domain.OutputAction, vars map[string]any, actingUserID string) (Result, error)
}

// Registry maps provider names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a Registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any with the same name. Safe to call concurrently.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for name, or ProviderNotFoundError.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, &domain.ProviderNotFoundError{Provider: name}
	}
	return p, nil
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute looks up the action's provider and runs it. A panicking provider is
// reported as an error.
func (r *Registry) Execute(ctx context.Context, action *domain.OutputAction, vars map[string]any, actingUserID string) (Result, error) {
	p, err := r.Get(action.Provider)
	if err != nil {
		return Result{}, err
	}
	return safeExecute(ctx, p, action, vars, actingUserID)
}
