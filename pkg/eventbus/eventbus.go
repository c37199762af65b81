// Package eventbus implements the in-process publish/subscribe bus used by
// the agent core, the tool executor and the thread manager to emit
// lifecycle events. Delivery is synchronous in the publisher's goroutine
// and preserves subscriber registration order; subscribers must not block
// indefinitely. Nothing is persisted: events that matter for recovery are
// also in the event store.
package eventbus

import (
	"container/list"
	"sync"
)

// Topic names form part of the engine contract; UIs subscribe to these.
const (
	TopicTurnStart             = "turn_start"
	TopicTurnProgress          = "turn_progress"
	TopicTurnComplete          = "turn_complete"
	TopicTurnAborted           = "turn_aborted"
	TopicStateChange           = "state_change"
	TopicThinkingStart         = "agent_thinking_start"
	TopicThinkingComplete      = "agent_thinking_complete"
	TopicAgentToken            = "agent_token"
	TopicAgentResponseComplete = "agent_response_complete"
	TopicToolCallStart         = "tool_call_start"
	TopicToolCallComplete      = "tool_call_complete"
	TopicTokenUsageUpdate      = "token_usage_update"
	TopicTokenBudgetWarning    = "token_budget_warning"
	TopicApprovalRequest       = "approval_request"
	TopicThreadEventAdded      = "thread_event_added"
	TopicConversationComplete  = "conversation_complete"
	TopicError                 = "error"
)

// Handler receives events published on a subscribed topic.
type Handler func(topic string, payload any)

// Bus is a topic-keyed synchronous pub/sub. Construct with New.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*list.List
	all    *list.List
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]*list.List),
		all:    list.New(),
	}
}

// Subscribe registers a handler for one topic and returns an idempotent
// O(1) unsubscribe func.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	if subs == nil {
		subs = list.New()
		b.topics[topic] = subs
	}
	elem := subs.PushBack(handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs.Remove(elem)
		})
	}
}

// SubscribeAll registers a handler for every topic; used by UIs that
// project the whole event stream.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem := b.all.PushBack(handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all.Remove(elem)
		})
	}
}

// Publish delivers the payload to topic subscribers then wildcard
// subscribers, each in registration order, synchronously.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, b.all.Len()+4)
	if subs := b.topics[topic]; subs != nil {
		for elem := subs.Front(); elem != nil; elem = elem.Next() {
			handlers = append(handlers, elem.Value.(Handler))
		}
	}
	for elem := b.all.Front(); elem != nil; elem = elem.Next() {
		handlers = append(handlers, elem.Value.(Handler))
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(topic, payload)
	}
}
