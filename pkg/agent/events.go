package agent

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/lacehq/lace/pkg/tools"
	"github.com/lacehq/lace/pkg/types/events"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
)

// State is the agent's turn-loop state.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateStreaming     State = "streaming"
	StateToolExecution State = "tool_execution"
	StateAborted       State = "aborted"
)

// TurnMetrics tracks one turn. It is ephemeral: created on user input,
// discarded on completion or abort, never persisted as a thread event.
type TurnMetrics struct {
	TurnID    string    `json:"turnId"`
	StartTime time.Time `json:"startTime"`
	ElapsedMs int64     `json:"elapsedMs"`
	TokensIn  int       `json:"tokensIn"`
	TokensOut int       `json:"tokensOut"`
}

func newTurnMetrics() TurnMetrics {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	now := time.Now()
	return TurnMetrics{
		TurnID:    fmt.Sprintf("turn_%d_%s", now.UnixMilli(), suffix),
		StartTime: now,
	}
}

// TurnPayload accompanies turn_start, turn_complete and turn_aborted.
type TurnPayload struct {
	TurnID   string      `json:"turnId"`
	ThreadID string      `json:"threadId"`
	Metrics  TurnMetrics `json:"metrics"`
}

// StateChangePayload accompanies state_change.
type StateChangePayload struct {
	ThreadID string `json:"threadId"`
	From     State  `json:"from"`
	To       State  `json:"to"`
}

// TokenPayload accompanies agent_token for both output and thinking tokens.
type TokenPayload struct {
	TurnID   string `json:"turnId"`
	Text     string `json:"text"`
	Thinking bool   `json:"thinking,omitempty"`
}

// ResponsePayload accompanies agent_response_complete.
type ResponsePayload struct {
	TurnID   string `json:"turnId"`
	ThreadID string `json:"threadId"`
	Content  string `json:"content"`
}

// ToolCallPayload accompanies tool_call_start.
type ToolCallPayload struct {
	TurnID string            `json:"turnId"`
	Call   llmtypes.ToolCall `json:"call"`
}

// ToolResultPayload accompanies tool_call_complete.
type ToolResultPayload struct {
	TurnID string                `json:"turnId"`
	Result tools.ExecutionResult `json:"result"`
}

// BudgetWarningPayload accompanies token_budget_warning.
type BudgetWarningPayload struct {
	TurnID string `json:"turnId"`
	Used   int    `json:"used"`
	Budget int    `json:"budget"`
}

// ErrorPayload accompanies error events.
type ErrorPayload struct {
	TurnID   string `json:"turnId"`
	ThreadID string `json:"threadId"`
	Err      error  `json:"-"`
	Message  string `json:"message"`
}

// EventPayload accompanies thread_event_added, for live appends and for
// replayed history alike.
type EventPayload struct {
	Event events.ThreadEvent `json:"event"`
}
