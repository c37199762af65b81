package llm

import (
	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/llm/anthropic"
	"github.com/lacehq/lace/pkg/llm/openai"
)

// New instantiates a provider from a "<provider>:<model>" spec using the
// default adapter set.
func New(spec string, cfg Config) (Provider, error) {
	providerName, model, err := ParseModelSpec(spec)
	if err != nil {
		return nil, err
	}
	return NewProvider(providerName, model, cfg)
}

// NewProvider is the default Factory.
func NewProvider(providerName, model string, cfg Config) (Provider, error) {
	switch providerName {
	case "anthropic":
		return anthropic.New(model, anthropic.Options{
			APIKey:    cfg.APIKey,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "openai":
		return openai.New(model, openai.Options{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		}), nil
	case "lmstudio":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openai.LMStudioBaseURL
		}
		return openai.New(model, openai.Options{
			APIKey:       cfg.APIKey,
			BaseURL:      baseURL,
			ProviderName: "lmstudio",
		}), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openai.OllamaBaseURL
		}
		return openai.New(model, openai.Options{
			APIKey:       cfg.APIKey,
			BaseURL:      baseURL,
			ProviderName: "ollama",
		}), nil
	default:
		return nil, errors.Errorf("unknown provider: %s", providerName)
	}
}
