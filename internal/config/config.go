// Package config defines the gateway's provider configuration entities and
// the JSON-backed store the engine reads them from.
//
// The configuration document is arbitrary persisted JSON of the shape
//
//	{"providers": [{"id": "...", "type": "openai", "models": [...]}, ...]}
//
// loaded at startup and re-read on demand (SIGHUP or an explicit Reload call).
package config

import (
	"fmt"
	"strings"
)

// ProviderType identifies the wire protocol / credential scheme of an
// upstream provider. The set is closed; unknown values fail validation.
type ProviderType string

const (
	TypeOpenAI           ProviderType = "openai"
	TypeAnthropic        ProviderType = "anthropic"
	TypeGoogle           ProviderType = "google"
	TypeGoogleVertex     ProviderType = "google-vertex"
	TypeAzure            ProviderType = "azure"
	TypeBedrock          ProviderType = "bedrock"
	TypeGroq             ProviderType = "groq"
	TypeMistral          ProviderType = "mistral"
	TypeDeepSeek         ProviderType = "deepseek"
	TypeXAI              ProviderType = "xai"
	TypePerplexity       ProviderType = "perplexity"
	TypeTogetherAI       ProviderType = "togetherai"
	TypeOpenRouter       ProviderType = "openrouter"
	TypeOllama           ProviderType = "ollama"
	TypeQwen             ProviderType = "qwen"
	TypeOpenAICompatible ProviderType = "openai-compatible"
	TypeClaudeCode       ProviderType = "claude-code"
	TypeGeminiCLI        ProviderType = "gemini-cli"
	TypeCopilot          ProviderType = "copilot"
	TypeCustom           ProviderType = "custom"
)

var knownTypes = map[ProviderType]bool{
	TypeOpenAI: true, TypeAnthropic: true, TypeGoogle: true, TypeGoogleVertex: true,
	TypeAzure: true, TypeBedrock: true, TypeGroq: true, TypeMistral: true,
	TypeDeepSeek: true, TypeXAI: true, TypePerplexity: true, TypeTogetherAI: true,
	TypeOpenRouter: true, TypeOllama: true, TypeQwen: true, TypeOpenAICompatible: true,
	TypeClaudeCode: true, TypeGeminiCLI: true, TypeCopilot: true, TypeCustom: true,
}

// Valid reports whether t is one of the closed set of provider types.
func (t ProviderType) Valid() bool { return knownTypes[t] }

// Provider is one configured upstream LLM endpoint.
// Credential fields are optional and gated by Type at adapter-construction
// time, not here: config validation only checks structural invariants.
type Provider struct {
	ID   string       `json:"id"`
	Type ProviderType `json:"type"`

	APIKey     string `json:"apiKey,omitempty"`
	OAuthToken string `json:"oauthToken,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`

	AzureResource   string `json:"azureResource,omitempty"`
	AzureDeployment string `json:"azureDeployment,omitempty"`

	AWSAccessKey string `json:"awsAccessKey,omitempty"`
	AWSSecretKey string `json:"awsSecretKey,omitempty"`
	AWSRegion    string `json:"awsRegion,omitempty"`

	Models []Model `json:"models"`
	Limits *Limits `json:"limits,omitempty"`
}

// Model is an identifier the provider accepts, optionally aliased for clients.
type Model struct {
	Name       string   `json:"name"`
	MappedName string   `json:"mappedName,omitempty"`
	Pricing    *Pricing `json:"pricing,omitempty"`

	// Per-model limits are parsed for forward compatibility but not
	// enforced; only provider-wide limits drive admission.
	Limits *Limits `json:"limits,omitempty"`
}

// ClientName returns the client-facing model name (mappedName falling back
// to name). This is what appears in the OpenAI wire `model` field; internal
// accounting always uses Name.
func (m Model) ClientName() string {
	if m.MappedName != "" {
		return m.MappedName
	}
	return m.Name
}

// Limits holds up to nine optional budget caps. Cost values are USD.
type Limits struct {
	RequestsPerMinute *float64 `json:"requestsPerMinute,omitempty"`
	RequestsPerHour   *float64 `json:"requestsPerHour,omitempty"`
	RequestsPerDay    *float64 `json:"requestsPerDay,omitempty"`
	TokensPerMinute   *float64 `json:"tokensPerMinute,omitempty"`
	TokensPerHour     *float64 `json:"tokensPerHour,omitempty"`
	TokensPerDay      *float64 `json:"tokensPerDay,omitempty"`
	CostPerMinute     *float64 `json:"costPerMinute,omitempty"`
	CostPerHour       *float64 `json:"costPerHour,omitempty"`
	CostPerDay        *float64 `json:"costPerDay,omitempty"`
}

// Pricing is per-million-token pricing, with an optional flat per-request
// cost that overrides token-based billing when set.
type Pricing struct {
	InputCostPerMillionTokens  *float64 `json:"inputCostPerMillionTokens,omitempty"`
	OutputCostPerMillionTokens *float64 `json:"outputCostPerMillionTokens,omitempty"`
	CostPerRequest             *float64 `json:"costPerRequest,omitempty"`
}

// IsZero reports whether every defined price field is exactly zero.
// A pricing record with no fields defined is vacuously zero: it is known
// pricing under which any call computes to $0.
func (p *Pricing) IsZero() bool {
	if p == nil {
		return false
	}
	if p.InputCostPerMillionTokens != nil && *p.InputCostPerMillionTokens != 0 {
		return false
	}
	if p.OutputCostPerMillionTokens != nil && *p.OutputCostPerMillionTokens != 0 {
		return false
	}
	if p.CostPerRequest != nil && *p.CostPerRequest != 0 {
		return false
	}
	return true
}

// Document is the root of the persisted configuration JSON.
type Document struct {
	Providers []Provider `json:"providers"`
}

// Validate checks the structural invariants of a configuration document:
// unique provider IDs, known types, non-empty model lists, positive limits.
func (d *Document) Validate() error {
	seen := make(map[string]bool, len(d.Providers))
	for i, p := range d.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: provider %d has empty id", i)
		}
		if len(p.ID) > 32 {
			return fmt.Errorf("config: provider id %q exceeds 32 characters", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true

		if !p.Type.Valid() {
			return fmt.Errorf("config: provider %q has unknown type %q", p.ID, p.Type)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("config: provider %q has no models", p.ID)
		}
		for _, m := range p.Models {
			if strings.TrimSpace(m.Name) == "" {
				return fmt.Errorf("config: provider %q has a model with empty name", p.ID)
			}
			if err := validateLimits(m.Limits); err != nil {
				return fmt.Errorf("config: provider %q model %q: %w", p.ID, m.Name, err)
			}
		}
		if err := validateLimits(p.Limits); err != nil {
			return fmt.Errorf("config: provider %q: %w", p.ID, err)
		}
	}
	return nil
}

func validateLimits(l *Limits) error {
	if l == nil {
		return nil
	}
	check := func(name string, v *float64) error {
		if v != nil && *v <= 0 {
			return fmt.Errorf("limit %s must be positive, got %v", name, *v)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    *float64
	}{
		{"requestsPerMinute", l.RequestsPerMinute},
		{"requestsPerHour", l.RequestsPerHour},
		{"requestsPerDay", l.RequestsPerDay},
		{"tokensPerMinute", l.TokensPerMinute},
		{"tokensPerHour", l.TokensPerHour},
		{"tokensPerDay", l.TokensPerDay},
		{"costPerMinute", l.CostPerMinute},
		{"costPerHour", l.CostPerHour},
		{"costPerDay", l.CostPerDay},
	} {
		if err := check(c.name, c.v); err != nil {
			return err
		}
	}
	return nil
}
