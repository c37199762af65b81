package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/lacehq/lace/pkg/agent"
	"github.com/lacehq/lace/pkg/eventbus"
	"github.com/lacehq/lace/pkg/types/events"
)

// renderer projects bus events onto the console. Streaming providers print
// token by token; non-streaming responses print whole on completion.
type renderer struct {
	out io.Writer

	mu       sync.Mutex
	streamed bool

	unsubscribe []func()
}

func newRenderer(out io.Writer, bus *eventbus.Bus) *renderer {
	r := &renderer{out: out}
	r.unsubscribe = []func(){
		bus.Subscribe(eventbus.TopicAgentToken, r.onToken),
		bus.Subscribe(eventbus.TopicAgentResponseComplete, r.onResponse),
		bus.Subscribe(eventbus.TopicToolCallStart, r.onToolStart),
		bus.Subscribe(eventbus.TopicToolCallComplete, r.onToolComplete),
		bus.Subscribe(eventbus.TopicTurnAborted, r.onAborted),
		bus.Subscribe(eventbus.TopicTokenBudgetWarning, r.onBudgetWarning),
		bus.Subscribe(eventbus.TopicThreadEventAdded, r.onThreadEvent),
	}
	return r
}

// Close detaches the renderer from the bus.
func (r *renderer) Close() {
	for _, unsub := range r.unsubscribe {
		unsub()
	}
}

func (r *renderer) onToken(_ string, payload any) {
	token, ok := payload.(agent.TokenPayload)
	if !ok || token.Thinking {
		return
	}
	r.mu.Lock()
	r.streamed = true
	r.mu.Unlock()
	fmt.Fprint(r.out, token.Text)
}

func (r *renderer) onResponse(_ string, payload any) {
	response, ok := payload.(agent.ResponsePayload)
	if !ok {
		return
	}
	r.mu.Lock()
	streamed := r.streamed
	r.streamed = false
	r.mu.Unlock()

	if streamed {
		fmt.Fprintln(r.out)
		return
	}
	if response.Content != "" {
		fmt.Fprintln(r.out, response.Content)
	}
}

func (r *renderer) onToolStart(_ string, payload any) {
	call, ok := payload.(agent.ToolCallPayload)
	if !ok || len(call.Call.Arguments) == 0 {
		// Streaming announcements carry no arguments; the executed call
		// follows with the full payload.
		return
	}
	fmt.Fprintf(r.out, "[tool] %s %s\n", call.Call.Name, string(call.Call.Arguments))
}

func (r *renderer) onToolComplete(_ string, payload any) {
	result, ok := payload.(agent.ToolResultPayload)
	if !ok {
		return
	}
	switch {
	case result.Result.Denied:
		fmt.Fprintf(r.out, "[tool] %s denied\n", result.Result.Call.Name)
	case result.Result.CircuitBroken:
		fmt.Fprintf(r.out, "[tool] %s skipped, circuit open\n", result.Result.Call.Name)
	case !result.Result.Success:
		fmt.Fprintf(r.out, "[tool] %s failed: %s\n", result.Result.Call.Name, result.Result.ActionableError)
	}
}

func (r *renderer) onAborted(_ string, payload any) {
	fmt.Fprintln(r.out, "\n[lace] turn aborted")
}

func (r *renderer) onBudgetWarning(_ string, payload any) {
	warning, ok := payload.(agent.BudgetWarningPayload)
	if !ok {
		return
	}
	fmt.Fprintf(r.out, "[lace] context usage high: %d of %d tokens\n", warning.Used, warning.Budget)
}

// onThreadEvent renders display-only timeline notes: the persisted turn
// notices (stop, iteration limit, errors) and CLI help. Other event types
// already reach the console through their dedicated topics.
func (r *renderer) onThreadEvent(_ string, payload any) {
	event, ok := payload.(agent.EventPayload)
	if !ok || event.Event.Type != events.EventLocalSystemMessage {
		return
	}
	if data, ok := event.Event.Data.(events.MessageData); ok {
		fmt.Fprintln(r.out, data.Text)
	}
}
