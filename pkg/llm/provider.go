package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kyra-dev/kyra/pkg/registry"
)

// Provider is a chat-completion backend.
type Provider interface {
	// Chat performs one completion round trip.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Name is the provider identifier (openai, anthropic).
	Name() string

	Close() error
}

// Registry holds providers and routes models to them by name prefix.
// "gpt-4o" resolves to whichever provider claimed the "gpt-" prefix.
type Registry struct {
	*registry.BaseRegistry[Provider]

	prefixes map[string]string
	fallback string
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
		prefixes:     make(map[string]string),
	}
}

// RegisterProvider adds a provider and the model prefixes it serves.
// The first registered provider becomes the fallback for unknown models.
func (r *Registry) RegisterProvider(p Provider, modelPrefixes ...string) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	if err := r.Register(p.Name(), p); err != nil {
		return err
	}
	for _, prefix := range modelPrefixes {
		r.prefixes[prefix] = p.Name()
	}
	if r.fallback == "" {
		r.fallback = p.Name()
	}
	return nil
}

// ForModel resolves the provider serving a model. The longest matching
// prefix wins so "gpt-4o-" can shadow "gpt-".
func (r *Registry) ForModel(model string) (Provider, error) {
	var best string
	var bestLen int
	for prefix, name := range r.prefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = name
			bestLen = len(prefix)
		}
	}
	if best == "" {
		best = r.fallback
	}
	if best == "" {
		return nil, fmt.Errorf("no provider registered for model %q", model)
	}
	p, ok := r.Get(best)
	if !ok {
		return nil, fmt.Errorf("provider %q not found for model %q", best, model)
	}
	return p, nil
}

// Providers returns registered provider names in sorted order.
func (r *Registry) Providers() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Close shuts down every registered provider, returning the first error.
func (r *Registry) Close() error {
	var first error
	for _, p := range r.List() {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
