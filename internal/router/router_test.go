package router

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/config"
	"modelgate/internal/metrics"
)

func f(v float64) *float64 { return &v }

// stubAdmitter admits everything except the listed provider IDs.
type stubAdmitter struct {
	blocked map[string]bool
}

func (a *stubAdmitter) IsUnderLimit(providerID, modelName string) bool {
	return !a.blocked[providerID]
}

// stubPricer serves pricing keyed by provider type, mirroring the catalog's
// per-model override precedence.
type stubPricer struct {
	prices map[config.ProviderType]config.Pricing
}

func (p *stubPricer) PriceFor(t config.ProviderType, m config.Model) (config.Pricing, bool) {
	if m.Pricing != nil {
		return *m.Pricing, true
	}
	pricing, ok := p.prices[t]
	return pricing, ok
}

func admitAll() *stubAdmitter { return &stubAdmitter{blocked: map[string]bool{}} }

func prov(id string, t config.ProviderType, models ...config.Model) config.Provider {
	return config.Provider{ID: id, Type: t, Models: models}
}

func TestRouteNoProvider(t *testing.T) {
	r := New([]config.Provider{
		prov("p1", config.TypeOpenAI, config.Model{Name: "gpt-4o"}),
	}, admitAll(), &stubPricer{})

	_, err := r.Route("nonexistent")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestRouteExactMatch(t *testing.T) {
	r := New([]config.Provider{
		prov("p1", config.TypeOpenAI, config.Model{Name: "gpt-4o"}),
	}, admitAll(), &stubPricer{})

	c, err := r.Route("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "p1", c.Provider.ID)

	// Matching is case-sensitive and exact.
	_, err = r.Route("GPT-4o")
	assert.ErrorIs(t, err, ErrNoProvider)
	_, err = r.Route("gpt-4")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestRouteMappedNameReplacesName(t *testing.T) {
	r := New([]config.Provider{
		prov("p1", config.TypeGoogle, config.Model{
			Name:       "google/gemini-2.5-flash",
			MappedName: "gemini-2.5-flash",
		}),
	}, admitAll(), &stubPricer{})

	c, err := r.Route("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-flash", c.Model.Name)

	// The internal name is not client-routable once an alias is set.
	_, err = r.Route("google/gemini-2.5-flash")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestRouteAdmissionFailover(t *testing.T) {
	admitter := &stubAdmitter{blocked: map[string]bool{"p1": true}}
	r := New([]config.Provider{
		prov("p1", config.TypeOpenAI, config.Model{Name: "m1"}),
		prov("p2", config.TypeGroq, config.Model{Name: "m1"}),
	}, admitter, &stubPricer{})

	// p1 over budget: every request lands on p2 instead of erroring.
	for i := 0; i < 20; i++ {
		c, err := r.Route("m1")
		require.NoError(t, err)
		assert.Equal(t, "p2", c.Provider.ID)
	}

	// Both over budget: 503-class error, distinct from unknown model.
	admitter.blocked["p2"] = true
	_, err := r.Route("m1")
	assert.ErrorIs(t, err, ErrAllRateLimited)
}

func TestRouteZeroCostPreference(t *testing.T) {
	// pA pricing unknown, pB explicitly free, pC paid. Every selection must
	// be pB: unknown pricing never counts as free.
	pricer := &stubPricer{prices: map[config.ProviderType]config.Pricing{
		config.TypeOllama: {InputCostPerMillionTokens: f(0), OutputCostPerMillionTokens: f(0)},
		config.TypeOpenAI: {InputCostPerMillionTokens: f(1), OutputCostPerMillionTokens: f(1)},
	}}
	r := New([]config.Provider{
		prov("pA", config.TypeMistral, config.Model{Name: "m1"}),
		prov("pB", config.TypeOllama, config.Model{Name: "m1"}),
		prov("pC", config.TypeOpenAI, config.Model{Name: "m1"}),
	}, admitAll(), pricer)

	for i := 0; i < 100; i++ {
		c, err := r.Route("m1")
		require.NoError(t, err)
		assert.Equal(t, "pB", c.Provider.ID)
	}
}

func TestRouteEmptyPricingOverrideIsFree(t *testing.T) {
	// A present-but-empty per-model pricing record means "known and free".
	r := New([]config.Provider{
		prov("paid", config.TypeOpenAI, config.Model{
			Name:    "m1",
			Pricing: &config.Pricing{InputCostPerMillionTokens: f(2)},
		}),
		prov("free", config.TypeOpenAI, config.Model{
			Name:    "m1",
			Pricing: &config.Pricing{},
		}),
	}, admitAll(), &stubPricer{})

	for i := 0; i < 50; i++ {
		c, err := r.Route("m1")
		require.NoError(t, err)
		assert.Equal(t, "free", c.Provider.ID)
	}
}

func TestRouteFallsBackToPaidWhenFreeThrottled(t *testing.T) {
	admitter := &stubAdmitter{blocked: map[string]bool{"free": true}}
	r := New([]config.Provider{
		prov("free", config.TypeOllama, config.Model{Name: "m1", Pricing: &config.Pricing{}}),
		prov("paid", config.TypeOpenAI, config.Model{Name: "m1", Pricing: &config.Pricing{InputCostPerMillionTokens: f(1)}}),
	}, admitter, &stubPricer{})

	c, err := r.Route("m1")
	require.NoError(t, err)
	assert.Equal(t, "paid", c.Provider.ID)
}

func TestRouteSelectionCoversAllCandidates(t *testing.T) {
	r := New([]config.Provider{
		prov("p1", config.TypeOpenAI, config.Model{Name: "m1"}),
		prov("p2", config.TypeGroq, config.Model{Name: "m1"}),
		prov("p3", config.TypeMistral, config.Model{Name: "m1"}),
	}, admitAll(), &stubPricer{})

	// Drive the tie-break deterministically through each index.
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		i := i
		r.pick = func(n int) int { return i % n }
		c, err := r.Route("m1")
		require.NoError(t, err)
		seen[c.Provider.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestRouteCountsSelectionByTier(t *testing.T) {
	// The selection counter is shared process state, so assert deltas.
	routed := func(provider, tier string) float64 {
		return testutil.ToFloat64(metrics.Get().RoutedRequestsTotal.WithLabelValues(provider, tier))
	}

	r := New([]config.Provider{
		prov("local", config.TypeOllama, config.Model{Name: "m1", Pricing: &config.Pricing{}}),
		prov("paid", config.TypeOpenAI, config.Model{Name: "m2", Pricing: &config.Pricing{InputCostPerMillionTokens: f(1)}}),
	}, admitAll(), &stubPricer{})

	freeBefore := routed("local", "free")
	c, err := r.Route("m1")
	require.NoError(t, err)
	require.Equal(t, "local", c.Provider.ID)
	assert.Equal(t, freeBefore+1, routed("local", "free"))

	paidBefore := routed("paid", "paid")
	c, err = r.Route("m2")
	require.NoError(t, err)
	require.Equal(t, "paid", c.Provider.ID)
	assert.Equal(t, paidBefore+1, routed("paid", "paid"))

	// Routing failures count nothing.
	noneBefore := routed("local", "free") + routed("paid", "paid")
	_, err = r.Route("nonexistent")
	require.Error(t, err)
	assert.Equal(t, noneBefore, routed("local", "free")+routed("paid", "paid"))
}

func TestUpdateSwapsProviderSet(t *testing.T) {
	r := New([]config.Provider{
		prov("p1", config.TypeOpenAI, config.Model{Name: "old"}),
	}, admitAll(), &stubPricer{})

	r.Update([]config.Provider{
		prov("p2", config.TypeGroq, config.Model{Name: "new"}),
	})

	_, err := r.Route("old")
	assert.ErrorIs(t, err, ErrNoProvider)
	c, err := r.Route("new")
	require.NoError(t, err)
	assert.Equal(t, "p2", c.Provider.ID)
}
