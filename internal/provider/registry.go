// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"maps"
	"slices"
	"sync"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/health"
)

// Registry holds one resilient Client per configured provider and routes
// task types to them through a ModelRouter. Each provider therefore has its
// own circuit breaker.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	router  *ModelRouter
}

// NewRegistry creates an empty Registry routing through router.
func NewRegistry(router *ModelRouter) *Registry {
	if router == nil {
		router = NewModelRouter(Models{})
	}
	return &Registry{
		clients: make(map[string]*Client),
		router:  router,
	}
}

// Register adds a client under its backend name, replacing any previous one.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Get retrieves a client by provider name.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[name]
	if !ok {
		return nil, ariaerr.New(
			ariaerr.CodeProviderNotFound,
			"provider not found: "+name,
			ariaerr.FieldProvider(name),
		)
	}
	return c, nil
}

// Router returns the model router.
func (r *Registry) Router() *ModelRouter { return r.router }

// Resolve returns the client and bare model name serving task.
func (r *Registry) Resolve(task TaskType) (*Client, string, error) {
	ref, resolved := r.router.GetModel(task)
	if ref == "" {
		return nil, "", ariaerr.New(
			ariaerr.CodeProviderNotFound,
			"no model configured for task "+string(resolved),
			ariaerr.Field("task", string(resolved)),
		)
	}
	providerName, model := ParseRef(ref)
	c, err := r.Get(providerName)
	if err != nil {
		return nil, "", err
	}
	return c, model, nil
}

// Configured reports whether the chat route resolves to a registered client.
func (r *Registry) Configured() bool {
	_, _, err := r.Resolve(TaskChat)
	return err == nil
}

// Generate routes req to the model serving task.
func (r *Registry) Generate(ctx context.Context, task TaskType, req GenerateRequest) (*GenerateResult, error) {
	c, model, err := r.Resolve(task)
	if err != nil {
		return nil, err
	}
	req.Model = model
	return c.Generate(ctx, req)
}

// Embed embeds text with the embedding route.
func (r *Registry) Embed(ctx context.Context, text string) ([]float32, error) {
	c, model, err := r.Resolve(TaskEmbedding)
	if err != nil {
		return nil, err
	}
	return c.Embed(ctx, model, text)
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}

// Metrics returns the breaker snapshot of every registered provider.
func (r *Registry) Metrics() map[string]health.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Metrics, len(r.clients))
	for name, c := range r.clients {
		out[name] = c.Metrics()
	}
	return out
}

// Close shuts down all registered clients.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ariaerr.Join(errs...)
	}
	return nil
}
