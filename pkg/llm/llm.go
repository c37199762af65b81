// Package llm provides the uniform provider abstraction over heterogeneous
// LLM backends and the factory that instantiates them from a
// "<provider>:<model>" spec.
package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	llmtypes "github.com/lacehq/lace/pkg/types/llm"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

// Provider is the capability every backend must implement. Cancellation
// flows through ctx; a cancelled call returns an error satisfying
// errors.Is(err, context.Canceled).
type Provider interface {
	Name() string
	Model() string
	CreateResponse(ctx context.Context, messages []llmtypes.Message, tools []tooltypes.Tool) (llmtypes.Response, error)
}

// StreamingProvider is implemented by backends that can stream tokens.
type StreamingProvider interface {
	Provider
	CreateStreamingResponse(ctx context.Context, messages []llmtypes.Message, tools []tooltypes.Tool, handler llmtypes.StreamHandler) (llmtypes.Response, error)
}

// TokenCounter is an optional capability for exact input token counting.
// Callers fall back to llmtypes.EstimateTokens when absent.
type TokenCounter interface {
	CountTokens(ctx context.Context, messages []llmtypes.Message, tools []tooltypes.Tool) (int, error)
}

// ContextWindower is an optional capability reporting the model's context
// window size in tokens.
type ContextWindower interface {
	ContextWindow() int
}

// Coster is an optional capability reporting USD cost for token counts.
type Coster interface {
	Cost(inputTokens, outputTokens int) float64
}

// Config carries provider construction options captured at startup.
type Config struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
	// CacheStrategy is one of "aggressive", "conservative" or "disabled".
	CacheStrategy string `mapstructure:"cache_strategy"`
}

// Factory builds a Provider for a given provider name and model. The
// default factory wires the adapters in pkg/llm/anthropic and
// pkg/llm/openai; tests install scripted mocks.
type Factory func(provider, model string, cfg Config) (Provider, error)

// ParseModelSpec splits "<provider>:<model>" into its parts.
func ParseModelSpec(spec string) (provider, model string, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("invalid model spec %q, want \"<provider>:<model>\"", spec)
	}
	return parts[0], parts[1], nil
}

// CountOrEstimate counts input tokens exactly when the provider supports
// it, otherwise estimates with ceil(chars/4).
func CountOrEstimate(ctx context.Context, provider Provider, messages []llmtypes.Message, tools []tooltypes.Tool) int {
	if counter, ok := provider.(TokenCounter); ok {
		if n, err := counter.CountTokens(ctx, messages, tools); err == nil {
			return n
		}
	}
	return llmtypes.EstimateTokens(messages)
}
