// Package llm defines the canonical conversation and response types shared
// by the thread manager, the agent core and every provider adapter.
package llm

import "encoding/json"

// Message roles in the canonical conversation form.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the provider-ready conversation reconstructed
// from a thread's event log. Per-provider wire formatting is a pure
// transformation on this form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls are attached to assistant messages whose tool calls have
	// matching results in the log.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolResults are carried on user messages; every entry pairs with a
	// tool call on the immediately preceding assistant message.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	// Cacheable marks historical messages eligible for provider-side
	// prompt caching. Adapters without cache controls ignore it.
	Cacheable bool `json:"-"`
}

// ToolCall is a provider-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of a tool invocation fed back to the provider.
type ToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// Usage is the token accounting reported by a provider for one call.
// PromptTokens already includes the full context of the call.
type Usage struct {
	PromptTokens        int `json:"promptTokens"`
	CompletionTokens    int `json:"completionTokens"`
	TotalTokens         int `json:"totalTokens"`
	CacheCreationTokens int `json:"cacheCreationTokens,omitempty"`
	CacheReadTokens     int `json:"cacheReadTokens,omitempty"`
}

// Response is the uniform result of a provider call.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	Usage      Usage      `json:"usage"`
	StopReason string     `json:"stopReason,omitempty"`
}

// StreamHandler receives incremental output during a streaming provider
// call. Implementations must not block indefinitely; the agent bridges
// these callbacks onto the event bus.
type StreamHandler interface {
	HandleToken(text string)
	HandleThinkingToken(text string)
	HandleToolUseStart(id, name string)
	HandleUsage(usage Usage)
}

// EstimateTokens is the fallback token estimator used when a provider does
// not implement token counting: ceil(chars/4).
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
		for _, call := range msg.ToolCalls {
			chars += len(call.Name) + len(call.Arguments)
		}
		for _, result := range msg.ToolResults {
			chars += len(result.Content)
		}
	}
	return (chars + 3) / 4
}
