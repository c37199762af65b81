// Package openai adapts OpenAI-compatible chat completion APIs to the
// engine's provider interface. LMStudio and Ollama expose the same wire
// protocol, so they are served here through base-URL presets.
package openai

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lacehq/lace/pkg/logger"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

// Base-URL presets for OpenAI-compatible local runtimes.
const (
	LMStudioBaseURL = "http://localhost:1234/v1"
	OllamaBaseURL   = "http://localhost:11434/v1"
)

// Options configure the adapter.
type Options struct {
	APIKey  string
	BaseURL string
	// ProviderName overrides the reported provider name for presets
	// ("lmstudio", "ollama"). Defaults to "openai".
	ProviderName string
}

// Client calls an OpenAI-compatible chat completion API.
type Client struct {
	client *openai.Client
	model  string
	name   string
}

// New creates an OpenAI-compatible provider for the given model.
func New(model string, opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	name := opts.ProviderName
	if name == "" {
		name = "openai"
	}
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		name:   name,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// CreateResponse sends the conversation without streaming.
func (c *Client) CreateResponse(ctx context.Context, messages []llmtypes.Message, tools []tooltypes.Tool) (llmtypes.Response, error) {
	request := c.request(messages, tools)

	response, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return llmtypes.Response{}, errors.Wrapf(err, "%s request failed", c.name)
	}
	return fromCompletion(response)
}

// CreateStreamingResponse streams tokens through the handler while
// reconstructing the full response, including usage reported at stream end.
func (c *Client) CreateStreamingResponse(ctx context.Context, messages []llmtypes.Message, tools []tooltypes.Tool, handler llmtypes.StreamHandler) (llmtypes.Response, error) {
	request := c.request(messages, tools)
	request.Stream = true
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return llmtypes.Response{}, errors.Wrapf(err, "%s stream failed", c.name)
	}
	defer stream.Close()

	var contentBuilder strings.Builder
	var toolCalls []openai.ToolCall
	var usage openai.Usage
	var finishReason openai.FinishReason
	announced := make(map[string]bool)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, context.Canceled) {
			return llmtypes.Response{}, err
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return llmtypes.Response{}, errors.Wrapf(err, "%s stream receive failed", c.name)
		}

		if chunk.Usage != nil {
			usage = *chunk.Usage
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta

			if delta.Content != "" {
				handler.HandleToken(delta.Content)
				contentBuilder.WriteString(delta.Content)
			}
			if delta.ReasoningContent != "" {
				handler.HandleThinkingToken(delta.ReasoningContent)
			}

			for _, tc := range delta.ToolCalls {
				if tc.Index == nil {
					logger.G(ctx).WithField("tool_call_id", tc.ID).Warn("tool call delta without index, skipping")
					continue
				}
				idx := *tc.Index
				for len(toolCalls) <= idx {
					toolCalls = append(toolCalls, openai.ToolCall{})
				}
				if tc.ID != "" {
					toolCalls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[idx].Function.Name = tc.Function.Name
				}
				toolCalls[idx].Function.Arguments += tc.Function.Arguments

				if toolCalls[idx].ID != "" && toolCalls[idx].Function.Name != "" && !announced[toolCalls[idx].ID] {
					announced[toolCalls[idx].ID] = true
					handler.HandleToolUseStart(toolCalls[idx].ID, toolCalls[idx].Function.Name)
				}
			}

			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}

	out := llmtypes.Response{
		Content:    contentBuilder.String(),
		StopReason: string(finishReason),
		Usage:      fromUsage(usage),
	}
	for _, tc := range toolCalls {
		out.ToolCalls = append(out.ToolCalls, llmtypes.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	handler.HandleUsage(out.Usage)
	return out, nil
}

func (c *Client) request(messages []llmtypes.Message, tools []tooltypes.Tool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toChatMessages(messages),
		Tools:    toChatTools(tools),
	}
}

func toChatMessages(messages []llmtypes.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	for _, msg := range messages {
		switch msg.Role {
		case llmtypes.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case llmtypes.RoleUser:
			// Tool results ride on dedicated "tool" role messages.
			for _, result := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    result.Content,
					ToolCallID: result.ID,
				})
			}
			if msg.Content != "" {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: msg.Content,
				})
			}

		case llmtypes.RoleAssistant:
			chatMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				chatMsg.ToolCalls = append(chatMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			if chatMsg.Content == "" && len(chatMsg.ToolCalls) == 0 {
				continue
			}
			out = append(out, chatMsg)
		}
	}
	return out
}

func toChatTools(tools []tooltypes.Tool) []openai.Tool {
	var out []openai.Tool
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.GenerateSchema(),
			},
		})
	}
	return out
}

func fromCompletion(response openai.ChatCompletionResponse) (llmtypes.Response, error) {
	if len(response.Choices) == 0 {
		return llmtypes.Response{}, errors.New("response contained no choices")
	}
	choice := response.Choices[0]

	out := llmtypes.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage:      fromUsage(response.Usage),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llmtypes.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func fromUsage(usage openai.Usage) llmtypes.Usage {
	out := llmtypes.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
	if usage.PromptTokensDetails != nil {
		out.CacheReadTokens = usage.PromptTokensDetails.CachedTokens
	}
	return out
}
