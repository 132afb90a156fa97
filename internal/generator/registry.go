package generator

import (
	"fmt"

	"storyreel/internal/config"
)

// Registry resolves providers to their adapters.
type Registry struct {
	clients map[Provider]Client
}

// NewRegistry builds adapters for every configured provider. The stub
// provider is always available.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	clients := map[Provider]Client{
		ProviderStub: &StubClient{},
	}
	for name, settings := range cfg.Providers {
		provider, err := ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("configure providers: %w", err)
		}
		if provider == ProviderStub {
			continue
		}
		if settings.APIKey == "" {
			// Unconfigured providers stay unregistered; resolution fails
			// at generation time with a clear error.
			continue
		}
		client, err := NewHTTPClient(provider, settings)
		if err != nil {
			return nil, err
		}
		clients[provider] = client
	}
	return &Registry{clients: clients}, nil
}

// Register installs or replaces an adapter, useful for tests.
func (r *Registry) Register(provider Provider, client Client) {
	if r.clients == nil {
		r.clients = make(map[Provider]Client)
	}
	r.clients[provider] = client
}

// Resolve returns the adapter for a provider.
func (r *Registry) Resolve(provider Provider) (Client, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", provider)
	}
	return client, nil
}
