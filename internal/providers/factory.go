package providers

import (
	"fmt"

	"modelgate/internal/config"
)

// Default API roots for the hosted OpenAI-compatible providers.
var openaiCompatibleBases = map[config.ProviderType]string{
	config.TypeOpenAI:     "https://api.openai.com/v1",
	config.TypeGroq:       "https://api.groq.com/openai/v1",
	config.TypeMistral:    "https://api.mistral.ai/v1",
	config.TypeDeepSeek:   "https://api.deepseek.com/v1",
	config.TypeXAI:        "https://api.x.ai/v1",
	config.TypePerplexity: "https://api.perplexity.ai",
	config.TypeTogetherAI: "https://api.together.xyz/v1",
	config.TypeOpenRouter: "https://openrouter.ai/api/v1",
	config.TypeQwen:       "https://dashscope.aliyuncs.com/compatible-mode/v1",
}

const azureAPIVersion = "2024-06-01"

// New constructs the wire client for a provider configuration. Adding a new
// provider type is one case in this switch.
func New(p config.Provider) (Client, error) {
	switch p.Type {
	case config.TypeOpenAI, config.TypeGroq, config.TypeMistral, config.TypeDeepSeek,
		config.TypeXAI, config.TypePerplexity, config.TypeTogetherAI,
		config.TypeOpenRouter, config.TypeQwen:
		if p.APIKey == "" {
			return nil, fmt.Errorf("%w: provider %q (%s) requires an API key", ErrMisconfigured, p.ID, p.Type)
		}
		base := p.BaseURL
		if base == "" {
			base = openaiCompatibleBases[p.Type]
		}
		return NewOpenAIClient(base, p.APIKey, nil), nil

	case config.TypeOpenAICompatible, config.TypeCustom:
		if p.BaseURL == "" {
			return nil, fmt.Errorf("%w: provider %q (%s) requires a base URL", ErrMisconfigured, p.ID, p.Type)
		}
		return NewOpenAIClient(p.BaseURL, p.APIKey, nil), nil

	case config.TypeAzure:
		if p.AzureResource == "" || p.AzureDeployment == "" {
			return nil, fmt.Errorf("%w: provider %q requires azureResource and azureDeployment", ErrMisconfigured, p.ID)
		}
		if p.APIKey == "" {
			return nil, fmt.Errorf("%w: provider %q requires an API key", ErrMisconfigured, p.ID)
		}
		base := p.BaseURL
		if base == "" {
			base = fmt.Sprintf("https://%s.openai.azure.com/openai/deployments/%s", p.AzureResource, p.AzureDeployment)
		}
		// Azure authenticates with api-key, not a bearer token.
		client := NewOpenAIClient(base, "", map[string]string{"api-key": p.APIKey})
		return client.withQuery("api-version=" + azureAPIVersion), nil

	case config.TypeCopilot:
		if p.OAuthToken == "" {
			return nil, fmt.Errorf("%w: provider %q requires an OAuth token", ErrMisconfigured, p.ID)
		}
		base := p.BaseURL
		if base == "" {
			base = "https://api.githubcopilot.com"
		}
		return NewOpenAIClient(base, p.OAuthToken, map[string]string{
			"Copilot-Integration-Id": "vscode-chat",
			"Editor-Version":         "vscode/1.95.0",
		}), nil

	case config.TypeAnthropic:
		if p.APIKey == "" {
			return nil, fmt.Errorf("%w: provider %q requires an API key", ErrMisconfigured, p.ID)
		}
		return NewAnthropicClient(p.BaseURL, p.APIKey, ""), nil

	case config.TypeClaudeCode:
		if p.OAuthToken == "" {
			return nil, fmt.Errorf("%w: provider %q requires an OAuth token", ErrMisconfigured, p.ID)
		}
		return NewAnthropicClient(p.BaseURL, "", p.OAuthToken), nil

	case config.TypeGoogle:
		if p.APIKey == "" {
			return nil, fmt.Errorf("%w: provider %q requires an API key", ErrMisconfigured, p.ID)
		}
		return NewGeminiClient(p.BaseURL, p.APIKey, ""), nil

	case config.TypeGoogleVertex, config.TypeGeminiCLI:
		if p.OAuthToken == "" {
			return nil, fmt.Errorf("%w: provider %q (%s) requires an OAuth token", ErrMisconfigured, p.ID, p.Type)
		}
		return NewGeminiClient(p.BaseURL, "", p.OAuthToken), nil

	case config.TypeOllama:
		return NewOllamaClient(p.BaseURL), nil

	case config.TypeBedrock:
		if p.AWSAccessKey == "" || p.AWSSecretKey == "" || p.AWSRegion == "" {
			return nil, fmt.Errorf("%w: provider %q requires AWS access key, secret key, and region", ErrMisconfigured, p.ID)
		}
		return NewBedrockClient(p.AWSAccessKey, p.AWSSecretKey, p.AWSRegion, p.BaseURL), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, p.Type)
	}
}
