package threads

import (
	"strings"

	"github.com/lacehq/lace/pkg/types/events"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
)

// BuildConversation turns an ordered event sequence into the provider-ready
// message list. The transformation is deterministic and idempotent: the
// event log is the source of truth and this is its only projection.
//
// Pairing rules:
//   - a TOOL_CALL whose id never receives a TOOL_RESULT is suppressed
//   - a TOOL_RESULT whose id has no earlier TOOL_CALL is dropped
//   - surviving calls attach to the immediately preceding assistant
//     message; surviving results group onto a single following user message
//
// LOCAL_SYSTEM_MESSAGE events are display-only and never enter the output.
func BuildConversation(log []events.ThreadEvent) []llmtypes.Message {
	// Pass A: collect pairing ids.
	toolCallIDs := make(map[string]bool)
	toolResultIDs := make(map[string]bool)
	for _, event := range log {
		switch data := event.Data.(type) {
		case events.ToolCallData:
			if event.Type == events.EventToolCall {
				toolCallIDs[data.ID] = true
			}
		case events.ToolResultData:
			if event.Type == events.EventToolResult {
				toolResultIDs[data.ID] = true
			}
		}
	}

	// Pass B: emit messages.
	var systemParts []string
	var messages []llmtypes.Message

	// Index of the assistant message open for tool-call attachment; only
	// TOOL_CALL/TOOL_RESULT events may intervene without closing it.
	attachable := -1
	// Index of the user message open for tool-result grouping.
	resultMsg := -1

	for _, event := range log {
		switch event.Type {
		case events.EventSystemPrompt, events.EventUserSystemPrompt:
			if data, ok := event.Data.(events.MessageData); ok {
				systemParts = append(systemParts, data.Text)
			}

		case events.EventUserMessage:
			data, ok := event.Data.(events.MessageData)
			if !ok {
				continue
			}
			messages = append(messages, llmtypes.Message{Role: llmtypes.RoleUser, Content: data.Text})
			attachable, resultMsg = -1, -1

		case events.EventAgentMessage:
			data, ok := event.Data.(events.MessageData)
			if !ok {
				continue
			}
			messages = append(messages, llmtypes.Message{Role: llmtypes.RoleAssistant, Content: data.Text})
			attachable, resultMsg = len(messages)-1, -1

		case events.EventToolCall:
			data, ok := event.Data.(events.ToolCallData)
			if !ok || !toolResultIDs[data.ID] {
				// No matching result: the call is suppressed.
				continue
			}
			call := llmtypes.ToolCall{ID: data.ID, Name: data.Name, Arguments: data.Arguments}
			if attachable < 0 {
				// A surviving call with no preceding assistant message gets
				// an empty assistant carrier to keep pairing intact.
				messages = append(messages, llmtypes.Message{Role: llmtypes.RoleAssistant})
				attachable = len(messages) - 1
			}
			messages[attachable].ToolCalls = append(messages[attachable].ToolCalls, call)
			resultMsg = -1

		case events.EventToolResult:
			data, ok := event.Data.(events.ToolResultData)
			if !ok || !toolCallIDs[data.ID] {
				// Orphan result: dropped.
				continue
			}
			result := llmtypes.ToolResult{ID: data.ID, Content: data.Text(), IsError: data.IsError}
			if resultMsg < 0 {
				messages = append(messages, llmtypes.Message{Role: llmtypes.RoleUser})
				resultMsg = len(messages) - 1
			}
			messages[resultMsg].ToolResults = append(messages[resultMsg].ToolResults, result)

		case events.EventLocalSystemMessage:
			// Display-only; never part of the reconstructed conversation.
		}
	}

	if len(systemParts) == 0 {
		return messages
	}

	out := make([]llmtypes.Message, 0, len(messages)+1)
	out = append(out, llmtypes.Message{
		Role:    llmtypes.RoleSystem,
		Content: strings.Join(systemParts, "\n\n"),
	})
	return append(out, messages...)
}

// TrimToBudget drops the oldest non-system messages in whole-message units
// until the estimated token count fits the budget. Tool-call messages and
// their result messages are dropped together so pairing invariants hold.
func TrimToBudget(messages []llmtypes.Message, budgetTokens int, estimate func([]llmtypes.Message) int) []llmtypes.Message {
	if estimate(messages) <= budgetTokens {
		return messages
	}

	head := 0
	if len(messages) > 0 && messages[0].Role == llmtypes.RoleSystem {
		head = 1
	}

	trimmed := messages
	for estimate(trimmed) > budgetTokens && len(trimmed) > head+1 {
		drop := 1
		// Keep tool-call/tool-result pairs together.
		if len(trimmed[head].ToolCalls) > 0 &&
			head+1 < len(trimmed) && len(trimmed[head+1].ToolResults) > 0 {
			drop = 2
		}
		rest := trimmed[head+drop:]
		next := make([]llmtypes.Message, 0, head+len(rest))
		next = append(next, trimmed[:head]...)
		trimmed = append(next, rest...)
	}
	return trimmed
}

// MarkCacheable applies the prompt caching strategy: "aggressive" marks all
// but the last freshCount messages, "conservative" keeps one extra fresh,
// "disabled" marks none. Providers without cache controls ignore the marks.
func MarkCacheable(messages []llmtypes.Message, strategy string, freshCount int) {
	switch strategy {
	case "aggressive":
	case "conservative":
		freshCount++
	default:
		return
	}

	for i := range messages {
		messages[i].Cacheable = i < len(messages)-freshCount
	}
}
