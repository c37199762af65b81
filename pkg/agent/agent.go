// Package agent implements the conversational core: the turn loop that
// appends user input to the thread, reconstructs the conversation, calls
// the provider, executes requested tools and persists everything back as
// thread events, publishing lifecycle events on the bus throughout.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/eventbus"
	"github.com/lacehq/lace/pkg/llm"
	"github.com/lacehq/lace/pkg/logger"
	"github.com/lacehq/lace/pkg/threads"
	"github.com/lacehq/lace/pkg/tools"
	"github.com/lacehq/lace/pkg/types/events"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
	"github.com/lacehq/lace/pkg/usage"
)

// ErrAborted is returned by SendMessage when the turn was cancelled via
// Abort or the caller's context.
var ErrAborted = errors.New("turn aborted")

// ErrIterationLimit marks a turn that hit the iteration cap. The turn
// still completes; the sentinel lets callers distinguish the outcome.
var ErrIterationLimit = errors.New("iteration limit reached")

const (
	defaultMaxIterations      = 25
	defaultContextUtilization = 0.70
	defaultContextWindow      = 128000
	defaultWarningRatio       = 0.70
	defaultFreshMessages      = 2
	progressInterval          = time.Second
)

// Config tunes one agent session. Zero values take the defaults above.
type Config struct {
	SystemPrompt     string
	UserSystemPrompt string
	WorkingDirectory string

	MaxIterations int
	// ContextUtilization caps the share of the context window handed to
	// the provider as conversation history.
	ContextUtilization float64
	// ContextWindow overrides the provider-reported window; used when the
	// provider does not implement llm.ContextWindower and for delegate
	// budgets.
	ContextWindow int
	// TokenWarningRatio triggers token_budget_warning when context usage
	// crosses it.
	TokenWarningRatio float64
	// TokenReserve is held back from the trim budget as output headroom.
	TokenReserve int

	CacheStrategy     string
	FreshMessageCount int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.ContextUtilization <= 0 || c.ContextUtilization > 1 {
		c.ContextUtilization = defaultContextUtilization
	}
	if c.TokenWarningRatio <= 0 || c.TokenWarningRatio > 1 {
		c.TokenWarningRatio = defaultWarningRatio
	}
	if c.CacheStrategy == "" {
		c.CacheStrategy = "aggressive"
	}
	if c.FreshMessageCount <= 0 {
		c.FreshMessageCount = defaultFreshMessages
	}
	return c
}

// Options wires an agent's collaborators.
type Options struct {
	ThreadID       string
	ParentThreadID string
	Provider       llm.Provider
	Threads        *threads.Manager
	Executor       *tools.Executor
	Bus            *eventbus.Bus
	Accountant     *usage.Accountant
	Config         Config
}

// Agent owns one conversation thread. Safe for concurrent observation;
// only one turn runs at a time.
type Agent struct {
	sessionID      string
	threadID       string
	parentThreadID string
	provider       llm.Provider
	threads        *threads.Manager
	executor       *tools.Executor
	bus            *eventbus.Bus
	accountant     *usage.Accountant
	config         Config

	mu         sync.Mutex
	state      State
	turnActive bool
	aborted    bool
	turnCancel context.CancelFunc
}

// New creates an agent over an existing or to-be-created thread.
func New(opts Options) (*Agent, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent requires a provider")
	}
	if opts.Threads == nil {
		return nil, errors.New("agent requires a thread manager")
	}
	if opts.Executor == nil {
		return nil, errors.New("agent requires a tool executor")
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	if opts.Accountant == nil {
		opts.Accountant = usage.NewAccountant()
	}
	if opts.ThreadID == "" {
		opts.ThreadID = opts.Threads.NewThreadID()
	}
	return &Agent{
		sessionID:      uuid.New().String(),
		threadID:       opts.ThreadID,
		parentThreadID: opts.ParentThreadID,
		provider:       opts.Provider,
		threads:        opts.Threads,
		executor:       opts.Executor,
		bus:            opts.Bus,
		accountant:     opts.Accountant,
		config:         opts.Config.withDefaults(),
		state:          StateIdle,
	}, nil
}

// ThreadID returns the thread this agent writes to.
func (a *Agent) ThreadID() string {
	return a.threadID
}

// State returns the current turn-loop state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Accountant returns the session accountant.
func (a *Agent) Accountant() *usage.Accountant {
	return a.accountant
}

// Start ensures the thread exists and seeds system prompt events on a
// fresh thread. Idempotent.
func (a *Agent) Start(ctx context.Context) error {
	exists, err := a.threads.ThreadExists(ctx, a.threadID)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.threads.CreateThread(ctx, a.threadID, nil); err != nil {
			return err
		}
	}

	log, err := a.threads.Events(ctx, a.threadID)
	if err != nil {
		return err
	}
	if len(log) > 0 {
		return nil
	}

	if a.config.SystemPrompt != "" {
		if _, err := a.appendEvent(ctx, events.EventSystemPrompt, events.MessageData{Text: a.config.SystemPrompt}); err != nil {
			return err
		}
	}
	if a.config.UserSystemPrompt != "" {
		if _, err := a.appendEvent(ctx, events.EventUserSystemPrompt, events.MessageData{Text: a.config.UserSystemPrompt}); err != nil {
			return err
		}
	}
	return nil
}

// Abort cancels the in-flight turn: the provider call, retry sleeps and
// pending tool executions all observe the cancellation. Returns false when
// no turn is running or the turn was already aborted.
func (a *Agent) Abort() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.turnActive || a.aborted {
		return false
	}
	a.aborted = true
	a.turnCancel()
	return true
}

// AddLocalSystemMessage records a display-only note on the thread. The
// note never enters reconstructed conversations; UIs render it from the
// thread_event_added announcement.
func (a *Agent) AddLocalSystemMessage(ctx context.Context, text string) error {
	_, err := a.appendEvent(ctx, events.EventLocalSystemMessage, events.MessageData{Text: text})
	return err
}

// ReplaySessionEvents re-publishes thread_event_added for every stored
// event in order, so a resuming UI can rebuild its timeline.
func (a *Agent) ReplaySessionEvents(ctx context.Context) error {
	log, err := a.threads.Events(ctx, a.threadID)
	if err != nil {
		return err
	}
	for _, event := range log {
		a.bus.Publish(eventbus.TopicThreadEventAdded, EventPayload{Event: event})
	}
	return nil
}

// SendMessage runs one full turn: append the user message, then loop
// provider call / tool execution until the provider answers without tool
// calls, a denial stops the turn, or the iteration cap is hit. Returns the
// final assistant text.
func (a *Agent) SendMessage(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	if a.turnActive {
		a.mu.Unlock()
		return "", errors.New("a turn is already in progress")
	}
	turnCtx, cancel := context.WithCancel(ctx)
	a.turnActive = true
	a.aborted = false
	a.turnCancel = cancel
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.turnActive = false
		a.turnCancel = nil
		a.mu.Unlock()
	}()

	metrics := &liveMetrics{TurnMetrics: newTurnMetrics()}
	a.bus.Publish(eventbus.TopicTurnStart, TurnPayload{
		TurnID:   metrics.TurnID,
		ThreadID: a.threadID,
		Metrics:  metrics.snapshot(),
	})

	stopProgress := a.startProgressTicker(metrics)
	defer stopProgress()

	if _, err := a.appendEvent(turnCtx, events.EventUserMessage, events.MessageData{Text: text}); err != nil {
		a.failTurn(turnCtx, metrics, err)
		return "", err
	}

	toolList := a.executor.Registry().Tools()
	tctx := tooltypes.Context{
		SessionID:        a.sessionID,
		ThreadID:         a.threadID,
		ParentThreadID:   a.parentThreadID,
		WorkingDirectory: a.config.WorkingDirectory,
	}

	var (
		finalText string
		turnUsage llmtypes.Usage
		turnCost  float64
		warned    bool
		hitCap    = true
		turnErr   error
	)

	for i := 0; i < a.config.MaxIterations; i++ {
		a.setState(StateThinking)
		a.bus.Publish(eventbus.TopicThinkingStart, TurnPayload{TurnID: metrics.TurnID, ThreadID: a.threadID})

		messages, err := a.buildContext(turnCtx, toolList, metrics, &warned)
		if err != nil {
			a.failTurn(turnCtx, metrics, err)
			return "", err
		}

		response, err := a.createResponse(turnCtx, messages, toolList, metrics)
		if err != nil {
			if turnCtx.Err() != nil {
				a.finishAborted(ctx, metrics)
				return finalText, errors.Wrap(ErrAborted, err.Error())
			}
			a.failTurn(turnCtx, metrics, err)
			return "", errors.Wrap(err, "provider call failed")
		}

		turnUsage.PromptTokens = response.Usage.PromptTokens
		turnUsage.CompletionTokens += response.Usage.CompletionTokens
		turnUsage.CacheCreationTokens += response.Usage.CacheCreationTokens
		turnUsage.CacheReadTokens += response.Usage.CacheReadTokens
		turnUsage.TotalTokens = turnUsage.PromptTokens + turnUsage.CompletionTokens
		if coster, ok := a.provider.(llm.Coster); ok {
			turnCost += coster.Cost(response.Usage.PromptTokens, response.Usage.CompletionTokens)
		}
		metrics.setTokens(response.Usage.PromptTokens, response.Usage.CompletionTokens)
		a.bus.Publish(eventbus.TopicTokenUsageUpdate, turnUsage)
		a.bus.Publish(eventbus.TopicThinkingComplete, TurnPayload{TurnID: metrics.TurnID, ThreadID: a.threadID})
		a.bus.Publish(eventbus.TopicAgentResponseComplete, ResponsePayload{
			TurnID:   metrics.TurnID,
			ThreadID: a.threadID,
			Content:  response.Content,
		})

		if response.Content != "" || len(response.ToolCalls) > 0 {
			if _, err := a.appendEvent(turnCtx, events.EventAgentMessage, events.MessageData{Text: response.Content}); err != nil {
				a.failTurn(turnCtx, metrics, err)
				return "", err
			}
		}
		if response.Content != "" {
			finalText = response.Content
		}

		if len(response.ToolCalls) == 0 {
			hitCap = false
			break
		}

		stopped, err := a.runToolCalls(turnCtx, response.ToolCalls, tctx, metrics)
		if err != nil {
			if turnCtx.Err() != nil {
				a.finishAborted(ctx, metrics)
				return finalText, errors.Wrap(ErrAborted, err.Error())
			}
			a.failTurn(turnCtx, metrics, err)
			return "", err
		}
		if turnCtx.Err() != nil {
			a.finishAborted(ctx, metrics)
			return finalText, ErrAborted
		}
		if stopped {
			hitCap = false
			if _, err := a.appendEvent(turnCtx, events.EventLocalSystemMessage, events.MessageData{Text: "Execution stopped by user"}); err != nil {
				logger.G(turnCtx).WithError(err).Warn("failed to record stop notice")
			}
			break
		}
	}

	if hitCap {
		if _, err := a.appendEvent(turnCtx, events.EventLocalSystemMessage, events.MessageData{Text: "Iteration limit reached"}); err != nil {
			logger.G(turnCtx).WithError(err).Warn("failed to record iteration limit notice")
		}
		turnErr = ErrIterationLimit
	}

	a.accountant.RecordTurn(turnUsage, turnCost)

	a.bus.Publish(eventbus.TopicTurnComplete, TurnPayload{
		TurnID:   metrics.TurnID,
		ThreadID: a.threadID,
		Metrics:  metrics.snapshot(),
	})
	a.bus.Publish(eventbus.TopicConversationComplete, ResponsePayload{
		TurnID:   metrics.TurnID,
		ThreadID: a.threadID,
		Content:  finalText,
	})
	a.setState(StateIdle)
	return finalText, turnErr
}

// buildContext reconstructs the conversation, trims it to the token
// budget and applies the caching strategy.
func (a *Agent) buildContext(ctx context.Context, toolList []tooltypes.Tool, metrics *liveMetrics, warned *bool) ([]llmtypes.Message, error) {
	log, err := a.threads.Events(ctx, a.threadID)
	if err != nil {
		return nil, err
	}
	messages := threads.BuildConversation(log)

	window := a.contextWindow()
	budget := int(a.config.ContextUtilization*float64(window)) - a.config.TokenReserve
	if budget < 1 {
		budget = 1
	}

	estimate := func(msgs []llmtypes.Message) int {
		return llm.CountOrEstimate(ctx, a.provider, msgs, toolList)
	}
	messages = threads.TrimToBudget(messages, budget, estimate)
	threads.MarkCacheable(messages, a.config.CacheStrategy, a.config.FreshMessageCount)

	used := estimate(messages)
	if !*warned && float64(used) > a.config.TokenWarningRatio*float64(window) {
		*warned = true
		a.bus.Publish(eventbus.TopicTokenBudgetWarning, BudgetWarningPayload{
			TurnID: metrics.TurnID,
			Used:   used,
			Budget: window,
		})
	}
	return messages, nil
}

func (a *Agent) createResponse(ctx context.Context, messages []llmtypes.Message, toolList []tooltypes.Tool, metrics *liveMetrics) (llmtypes.Response, error) {
	if streaming, ok := a.provider.(llm.StreamingProvider); ok {
		handler := &busStreamHandler{agent: a, metrics: metrics}
		return streaming.CreateStreamingResponse(ctx, messages, toolList, handler)
	}
	return a.provider.CreateResponse(ctx, messages, toolList)
}

// runToolCalls persists TOOL_CALL events, executes the batch and persists
// TOOL_RESULT events in input order. Returns true when a denial asked the
// whole turn to stop.
func (a *Agent) runToolCalls(ctx context.Context, calls []llmtypes.ToolCall, tctx tooltypes.Context, metrics *liveMetrics) (bool, error) {
	a.setState(StateToolExecution)

	for _, call := range calls {
		if _, err := a.appendEvent(ctx, events.EventToolCall, events.ToolCallData{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		}); err != nil {
			return false, err
		}
		a.bus.Publish(eventbus.TopicToolCallStart, ToolCallPayload{TurnID: metrics.TurnID, Call: call})
	}

	results := a.executor.ExecuteBatch(ctx, calls, tctx)

	stopped := false
	for _, result := range results {
		if _, err := a.appendEvent(ctx, events.EventToolResult, events.ToolResultData{
			ID:      result.Call.ID,
			Content: events.TextBlock(result.Result.AssistantFacing()),
			IsError: result.Result.IsError(),
		}); err != nil {
			return false, err
		}
		a.bus.Publish(eventbus.TopicToolCallComplete, ToolResultPayload{TurnID: metrics.TurnID, Result: result})
		if result.ShouldStop {
			stopped = true
		}
	}
	return stopped, nil
}

func (a *Agent) contextWindow() int {
	if a.config.ContextWindow > 0 {
		return a.config.ContextWindow
	}
	if windower, ok := a.provider.(llm.ContextWindower); ok {
		return windower.ContextWindow()
	}
	return defaultContextWindow
}

// appendEvent is the agent's single write path: durable append first, then
// thread_event_added on the bus.
func (a *Agent) appendEvent(ctx context.Context, eventType events.EventType, data events.EventData) (*events.ThreadEvent, error) {
	event, err := a.threads.AddEvent(ctx, a.threadID, eventType, data)
	if err != nil {
		return nil, err
	}
	a.bus.Publish(eventbus.TopicThreadEventAdded, EventPayload{Event: *event})
	return event, nil
}

func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.mu.Unlock()

	if from != to {
		a.bus.Publish(eventbus.TopicStateChange, StateChangePayload{
			ThreadID: a.threadID,
			From:     from,
			To:       to,
		})
	}
}

func (a *Agent) startProgressTicker(metrics *liveMetrics) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.bus.Publish(eventbus.TopicTurnProgress, TurnPayload{
					TurnID:   metrics.TurnID,
					ThreadID: a.threadID,
					Metrics:  metrics.snapshot(),
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// finishAborted publishes turn_aborted exactly once and settles the state
// machine back to idle, ready for the next input.
func (a *Agent) finishAborted(ctx context.Context, metrics *liveMetrics) {
	a.setState(StateAborted)
	a.bus.Publish(eventbus.TopicTurnAborted, TurnPayload{
		TurnID:   metrics.TurnID,
		ThreadID: a.threadID,
		Metrics:  metrics.snapshot(),
	})
	logger.G(ctx).WithField("turn_id", metrics.TurnID).Info("turn aborted")
	a.setState(StateIdle)
}

func (a *Agent) failTurn(ctx context.Context, metrics *liveMetrics, err error) {
	logger.G(ctx).WithError(err).WithField("turn_id", metrics.TurnID).Error("turn failed")
	if _, appendErr := a.appendEvent(ctx, events.EventLocalSystemMessage, events.MessageData{Text: "Error: " + err.Error()}); appendErr != nil {
		logger.G(ctx).WithError(appendErr).Warn("failed to record turn error")
	}
	a.bus.Publish(eventbus.TopicError, ErrorPayload{
		TurnID:   metrics.TurnID,
		ThreadID: a.threadID,
		Err:      err,
		Message:  err.Error(),
	})
	a.setState(StateIdle)
}

// liveMetrics is TurnMetrics plus a lock so the progress ticker can read
// while the turn loop writes.
type liveMetrics struct {
	mu sync.Mutex
	TurnMetrics
}

func (m *liveMetrics) setTokens(in, outDelta int) {
	m.mu.Lock()
	m.TokensIn = in
	m.TokensOut += outDelta
	m.mu.Unlock()
}

func (m *liveMetrics) snapshot() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.TurnMetrics
	out.ElapsedMs = time.Since(m.StartTime).Milliseconds()
	return out
}

// busStreamHandler bridges provider streaming callbacks onto the bus.
type busStreamHandler struct {
	agent   *Agent
	metrics *liveMetrics
}

func (h *busStreamHandler) HandleToken(text string) {
	h.agent.setState(StateStreaming)
	h.agent.bus.Publish(eventbus.TopicAgentToken, TokenPayload{TurnID: h.metrics.TurnID, Text: text})
}

func (h *busStreamHandler) HandleThinkingToken(text string) {
	h.agent.bus.Publish(eventbus.TopicAgentToken, TokenPayload{TurnID: h.metrics.TurnID, Text: text, Thinking: true})
}

func (h *busStreamHandler) HandleToolUseStart(id, name string) {
	h.agent.bus.Publish(eventbus.TopicToolCallStart, ToolCallPayload{
		TurnID: h.metrics.TurnID,
		Call:   llmtypes.ToolCall{ID: id, Name: name},
	})
}

func (h *busStreamHandler) HandleUsage(u llmtypes.Usage) {
	h.metrics.setTokens(u.PromptTokens, 0)
}
