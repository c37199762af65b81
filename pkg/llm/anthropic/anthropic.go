// Package anthropic adapts the Anthropic Messages API to the engine's
// provider interface. Canonical conversation messages are translated to
// the SDK's block structure; the translation is pure and stateless.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/logger"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

const defaultMaxTokens = 8192

// Options configure the adapter.
type Options struct {
	APIKey    string
	MaxTokens int
}

// Client calls the Anthropic Messages API.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// New creates an Anthropic provider for the given model. An empty API key
// falls back to the SDK's environment lookup.
func New(model string, opts Options) *Client {
	var requestOpts []option.RequestOption
	if opts.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		client:    anthropic.NewClient(requestOpts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// CreateResponse sends the conversation and returns the uniform response.
func (c *Client) CreateResponse(ctx context.Context, messages []llmtypes.Message, tools []tooltypes.Tool) (llmtypes.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  toMessageParams(messages),
		Tools:     toToolParams(tools),
	}
	if system := systemText(messages); system != "" {
		params.System = []anthropic.TextBlockParam{{
			Text:         system,
			CacheControl: anthropic.CacheControlEphemeralParam{Type: "ephemeral"},
		}}
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llmtypes.Response{}, errors.Wrap(err, "anthropic request failed")
	}

	out := llmtypes.Response{
		StopReason: string(response.StopReason),
		Usage: llmtypes.Usage{
			PromptTokens:        int(response.Usage.InputTokens),
			CompletionTokens:    int(response.Usage.OutputTokens),
			CacheCreationTokens: int(response.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(response.Usage.CacheReadInputTokens),
		},
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens

	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, llmtypes.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: []byte(variant.JSON.Input.Raw()),
			})
		default:
			logger.G(ctx).WithField("block_type", block.Type).Debug("skipping unhandled content block")
		}
	}

	return out, nil
}

// ContextWindow reports the model's context window size.
func (c *Client) ContextWindow() int {
	// Every currently served Claude model carries a 200k window.
	return 200000
}

// Cost returns the USD cost for the given token counts.
func (c *Client) Cost(inputTokens, outputTokens int) float64 {
	in, out := 3.0, 15.0 // per million tokens, sonnet-class default
	switch {
	case strings.Contains(c.model, "haiku"):
		in, out = 0.8, 4.0
	case strings.Contains(c.model, "opus"):
		in, out = 15.0, 75.0
	}
	return float64(inputTokens)/1e6*in + float64(outputTokens)/1e6*out
}

func systemText(messages []llmtypes.Message) string {
	for _, msg := range messages {
		if msg.Role == llmtypes.RoleSystem {
			return msg.Content
		}
	}
	return ""
}

func toMessageParams(messages []llmtypes.Message) []anthropic.MessageParam {
	var params []anthropic.MessageParam
	lastCacheable := -1
	for i, msg := range messages {
		if msg.Cacheable {
			lastCacheable = i
		}
	}

	for i, msg := range messages {
		switch msg.Role {
		case llmtypes.RoleSystem:
			// Lifted into MessageNewParams.System.

		case llmtypes.RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, result := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(result.ID, result.Content, result.IsError))
			}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if len(blocks) == 0 {
				continue
			}
			if i == lastCacheable {
				markCacheControl(blocks)
			}
			params = append(params, anthropic.NewUserMessage(blocks...))

		case llmtypes.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return params
}

func markCacheControl(blocks []anthropic.ContentBlockParamUnion) {
	last := blocks[len(blocks)-1]
	if last.OfText != nil {
		last.OfText.CacheControl = anthropic.CacheControlEphemeralParam{Type: "ephemeral"}
	}
}

func toToolParams(tools []tooltypes.Tool) []anthropic.ToolUnionParam {
	params := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		params[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name(),
				Description: anthropic.String(tool.Description()),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.GenerateSchema().Properties,
				},
			},
		}
	}
	return params
}
