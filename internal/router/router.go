// Package router selects which configured provider serves a requested model.
//
// Selection runs in three stages: collect every (provider, model) pair whose
// client-facing name matches the request, drop providers the usage manager
// reports over budget, then pick uniformly at random — preferring the
// zero-cost candidates (local or explicitly free models) when any exist.
package router

import (
	"errors"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"modelgate/internal/config"
	"modelgate/internal/logging"
	"modelgate/internal/metrics"
)

// Routing failures, distinguished so the HTTP layer can map them to 404
// versus 503.
var (
	// ErrNoProvider means no configured provider exposes the requested model.
	ErrNoProvider = errors.New("no provider for model")

	// ErrAllRateLimited means providers exist for the model but all are over
	// at least one budget.
	ErrAllRateLimited = errors.New("all providers rate limited")
)

// Admitter answers whether a provider has headroom for one more request.
type Admitter interface {
	IsUnderLimit(providerID, modelName string) bool
}

// Pricer resolves pricing for a candidate. The boolean is false when pricing
// is unknown.
type Pricer interface {
	PriceFor(t config.ProviderType, m config.Model) (config.Pricing, bool)
}

// Candidate is one admissible (provider, model) pair for a request.
type Candidate struct {
	Provider config.Provider
	Model    config.Model
}

// Router matches requested model names against the live configuration.
type Router struct {
	mu        sync.RWMutex
	providers []config.Provider

	admitter Admitter
	pricer   Pricer
	pick     func(n int) int
}

// New creates a router over the given providers.
func New(providers []config.Provider, admitter Admitter, pricer Pricer) *Router {
	return &Router{
		providers: providers,
		admitter:  admitter,
		pricer:    pricer,
		pick:      rand.Intn,
	}
}

// Update replaces the provider set after a configuration reload.
func (r *Router) Update(providers []config.Provider) {
	r.mu.Lock()
	r.providers = providers
	r.mu.Unlock()
}

// Route picks the provider and model that will serve a request for the given
// client-facing model name.
//
// A model matches when its mappedName (or name, when no mapping is set)
// equals the requested name exactly. Among admitted candidates, zero-cost
// ones (pricing known and every defined price field zero) are preferred;
// unknown pricing never counts as free. Ties break uniformly at random.
func (r *Router) Route(model string) (Candidate, error) {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	var candidates []Candidate
	found := false
	for _, p := range providers {
		for _, m := range p.Models {
			if m.ClientName() != model {
				continue
			}
			found = true
			if !r.admitter.IsUnderLimit(p.ID, m.Name) {
				continue
			}
			candidates = append(candidates, Candidate{Provider: p, Model: m})
		}
	}

	if len(candidates) == 0 {
		if found {
			return Candidate{}, ErrAllRateLimited
		}
		return Candidate{}, ErrNoProvider
	}

	var free []Candidate
	for _, c := range candidates {
		if pricing, ok := r.pricer.PriceFor(c.Provider.Type, c.Model); ok && pricing.IsZero() {
			free = append(free, c)
		}
	}

	pool := candidates
	tier := "paid"
	if len(free) > 0 {
		pool = free
		tier = "free"
	}
	chosen := pool[r.pick(len(pool))]
	metrics.Get().RoutedRequestsTotal.WithLabelValues(chosen.Provider.ID, tier).Inc()

	logging.L().Debug("routed request",
		zap.String("model", model),
		zap.String("provider", chosen.Provider.ID),
		zap.String("upstream_model", chosen.Model.Name),
		zap.Int("candidates", len(candidates)),
		zap.Int("free", len(free)))
	return chosen, nil
}
