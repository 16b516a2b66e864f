// Package dispatch caches provider wire clients so each configured provider
// gets at most one live client (and one connection pool) per configuration
// generation.
package dispatch

import (
	"sync"

	"modelgate/internal/config"
	"modelgate/internal/providers"
)

// clientKey identifies a cache slot. Type is part of the key so a provider
// whose type changes across a reload cannot be served a stale client even if
// Invalidate were missed.
type clientKey struct {
	Type config.ProviderType
	ID   string
}

// Factory builds a wire client for a provider configuration. Tests swap it
// for a stub.
type Factory func(config.Provider) (providers.Client, error)

// Dispatcher lazily constructs and caches wire clients per provider.
type Dispatcher struct {
	mu      sync.RWMutex
	clients map[clientKey]providers.Client
	factory Factory
}

// NewDispatcher creates a dispatcher backed by the default client factory.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithFactory(providers.New)
}

// NewDispatcherWithFactory creates a dispatcher with a custom client factory.
func NewDispatcherWithFactory(f Factory) *Dispatcher {
	return &Dispatcher{
		clients: make(map[clientKey]providers.Client),
		factory: f,
	}
}

// ClientFor returns the cached client for a provider, constructing it on
// first use. Construction failures are not cached; a provider fixed by a
// configuration reload gets a fresh attempt.
func (d *Dispatcher) ClientFor(p config.Provider) (providers.Client, error) {
	key := clientKey{Type: p.Type, ID: p.ID}

	d.mu.RLock()
	client, ok := d.clients[key]
	d.mu.RUnlock()
	if ok {
		return client, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if client, ok := d.clients[key]; ok {
		return client, nil
	}
	client, err := d.factory(p)
	if err != nil {
		return nil, err
	}
	d.clients[key] = client
	return client, nil
}

// Invalidate drops every cached client. Called on configuration reload so
// credential or endpoint changes take effect.
func (d *Dispatcher) Invalidate() {
	d.mu.Lock()
	d.clients = make(map[clientKey]providers.Client)
	d.mu.Unlock()
}

// Len reports the number of cached clients.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}
