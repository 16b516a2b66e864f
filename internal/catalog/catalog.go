// Package catalog serves per-(providerType, model) pricing for cost accounting.
//
// The catalog is populated once at startup from an external pricing-data
// endpoint. The fetch is best-effort: a network failure leaves the catalog
// empty and the gateway runs with unknown pricing (cost records 0, flagged
// in logs by the executor).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/config"
	"modelgate/internal/logging"
)

// FetchTimeout bounds the startup pricing fetch.
const FetchTimeout = 10 * time.Second

// entry keys the pricing table. Lookup is exact-match only; the earlier
// substring heuristics misattributed pricing across model families.
type entry struct {
	providerType config.ProviderType
	model        string
}

// Catalog is the in-memory pricing table.
type Catalog struct {
	mu     sync.RWMutex
	prices map[entry]config.Pricing
	client *http.Client
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		prices: make(map[entry]config.Pricing),
		client: &http.Client{Timeout: FetchTimeout},
	}
}

// feedEntry is one record of the upstream pricing feed. Provider naming in
// the feed differs from our type set ("ANTHROPIC", "X", "AWS"); entries are
// normalized on load.
type feedEntry struct {
	Provider                   string   `json:"provider"`
	Model                      string   `json:"model"`
	InputCostPerMillionTokens  *float64 `json:"inputCostPerMillionTokens"`
	OutputCostPerMillionTokens *float64 `json:"outputCostPerMillionTokens"`
	CostPerRequest             *float64 `json:"costPerRequest,omitempty"`
}

// LoadFromURL fetches the pricing feed and replaces the catalog contents.
// Callers treat errors as non-fatal; the catalog stays in its previous
// (possibly empty) state.
func (c *Catalog) LoadFromURL(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: pricing endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog: failed to read response: %w", err)
	}

	var feed []feedEntry
	if err := json.Unmarshal(body, &feed); err != nil {
		return fmt.Errorf("catalog: failed to parse pricing feed: %w", err)
	}

	prices := make(map[entry]config.Pricing, len(feed))
	for _, fe := range feed {
		if fe.Model == "" {
			continue
		}
		prices[entry{normalizeProviderType(fe.Provider), fe.Model}] = config.Pricing{
			InputCostPerMillionTokens:  fe.InputCostPerMillionTokens,
			OutputCostPerMillionTokens: fe.OutputCostPerMillionTokens,
			CostPerRequest:             fe.CostPerRequest,
		}
	}

	c.mu.Lock()
	c.prices = prices
	c.mu.Unlock()

	logging.L().Info("price catalog loaded",
		zap.String("url", url),
		zap.Int("entries", len(prices)))
	return nil
}

// Set stores a single pricing entry. Used by tests and embedders.
func (c *Catalog) Set(t config.ProviderType, model string, p config.Pricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[entry{t, model}] = p
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// PriceFor resolves pricing for a model on a provider of the given type.
//
// The per-model override wins when present — including an empty override,
// which is honored as "known and empty". Otherwise the catalog is consulted
// by exact (providerType, model.Name) match. The second return is false only
// when pricing is unknown.
func (c *Catalog) PriceFor(t config.ProviderType, m config.Model) (config.Pricing, bool) {
	if m.Pricing != nil {
		return *m.Pricing, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.prices[entry{t, m.Name}]; ok {
		return p, true
	}
	return config.Pricing{}, false
}

// normalizeProviderType folds the feed's provider naming onto our closed
// type set. Unrecognized long-tail providers fold to openai-compatible.
func normalizeProviderType(s string) config.ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return config.TypeOpenAI
	case "anthropic":
		return config.TypeAnthropic
	case "google", "gemini":
		return config.TypeGoogle
	case "vertex", "google-vertex", "vertex_ai-language-models":
		return config.TypeGoogleVertex
	case "azure", "azure_ai":
		return config.TypeAzure
	case "aws", "bedrock", "amazon":
		return config.TypeBedrock
	case "groq":
		return config.TypeGroq
	case "mistral", "mistralai":
		return config.TypeMistral
	case "deepseek":
		return config.TypeDeepSeek
	case "x", "xai", "grok":
		return config.TypeXAI
	case "perplexity":
		return config.TypePerplexity
	case "together", "togetherai", "together_ai":
		return config.TypeTogetherAI
	case "openrouter":
		return config.TypeOpenRouter
	case "ollama":
		return config.TypeOllama
	case "qwen", "alibaba", "dashscope":
		return config.TypeQwen
	default:
		return config.TypeOpenAICompatible
	}
}
