// Package provider defines the adapter boundary between the dispatch
// engine and external validation providers, plus a registry mapping
// configured adapter types to constructors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/validly/dispatchd/internal/core/config"
	"github.com/validly/dispatchd/internal/core/domain"
	"github.com/validly/dispatchd/internal/infra/identity"
)

// ErrInvalidInput marks a malformed work item. Such items are never
// retried and never count against provider health.
var ErrInvalidInput = errors.New("invalid work item format")

// Adapter processes a single work item against one external provider.
// A returned error means the attempt never produced a trustworthy
// response (network, proxy, provider outage); a definitive provider
// answer, including a decline, is a RawOutcome with a nil error.
type Adapter interface {
	Name() string
	Process(ctx context.Context, item domain.WorkItem, ident identity.Identity) (domain.RawOutcome, error)
}

// Factory builds an adapter from its configuration.
type Factory func(cfg config.ProviderConfig) (Adapter, error)

// Registry maps adapter type names to factories and holds the
// constructed adapters by provider name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

// NewRegistry creates a registry with the built-in adapter types.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
	r.RegisterType("http", func(cfg config.ProviderConfig) (Adapter, error) {
		return NewHTTPAdapter(cfg), nil
	})
	return r
}

// RegisterType adds a factory for an adapter type. Later registrations
// replace earlier ones, which lets tests substitute fakes.
func (r *Registry) RegisterType(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Build constructs adapters for every configured provider. Unknown
// adapter types fail startup rather than failing the first batch.
func (r *Registry) Build(cfgs []config.ProviderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range cfgs {
		f, ok := r.factories[cfg.Type]
		if !ok {
			return fmt.Errorf("provider %q: unknown adapter type %q", cfg.Name, cfg.Type)
		}
		adapter, err := f(cfg)
		if err != nil {
			return fmt.Errorf("provider %q: %w", cfg.Name, err)
		}
		r.adapters[cfg.Name] = adapter
	}
	return nil
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return adapter, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
