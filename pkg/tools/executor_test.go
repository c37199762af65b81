package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/pkg/approval"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

type scriptedInput struct {
	Label string `json:"label,omitempty" jsonschema:"description=Marker for the call"`
}

// scriptedTool fails a configured number of times before succeeding.
type scriptedTool struct {
	name     string
	errMsg   string
	failures int

	mu    sync.Mutex
	calls int
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "scripted" }
func (t *scriptedTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[scriptedInput]()
}
func (t *scriptedTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true}
}
func (t *scriptedTool) Execute(_ context.Context, _ tooltypes.Context, _ string) tooltypes.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls <= t.failures {
		return tooltypes.ErrorResult("%s", t.errMsg)
	}
	return tooltypes.ToolResult{Result: "ok"}
}

func (t *scriptedTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func allowAll(ctx context.Context, req approval.Request) (approval.Decision, error) {
	return approval.AllowOnce, nil
}

func newTestExecutor(cfg Config, tools ...tooltypes.Tool) *Executor {
	registry := NewRegistry(tools...)
	approvals := approval.NewManager(approval.Policy{}, allowAll)
	return NewExecutor(registry, approvals, cfg)
}

func fastConfig() Config {
	return Config{
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}
}

func call(id, name string) llmtypes.ToolCall {
	return llmtypes.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

func TestExecuteBatchSuccess(t *testing.T) {
	tool := &scriptedTool{name: "probe"}
	executor := newTestExecutor(fastConfig(), tool)

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "probe")}, tooltypes.Context{})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.True(t, results[0].Approved)
	assert.Equal(t, "ok", results[0].Result.Result)
	assert.Equal(t, 0, results[0].RetryAttempts)
}

func TestExecuteBatchPreservesInputOrder(t *testing.T) {
	var registered []tooltypes.Tool
	for i := 0; i < 8; i++ {
		registered = append(registered, &scriptedTool{name: fmt.Sprintf("tool_%d", i)})
	}
	executor := newTestExecutor(fastConfig(), registered...)

	var calls []llmtypes.ToolCall
	for i := 0; i < 8; i++ {
		calls = append(calls, call(fmt.Sprintf("c%d", i), fmt.Sprintf("tool_%d", i)))
	}

	results := executor.ExecuteBatch(context.TODO(), calls, tooltypes.Context{})
	require.Len(t, results, 8)
	for i, result := range results {
		assert.Equal(t, calls[i].ID, result.Call.ID)
		assert.True(t, result.Success)
	}
}

func TestRetryOnTransientFailure(t *testing.T) {
	tool := &scriptedTool{name: "flaky", errMsg: "connection timeout", failures: 2}
	executor := newTestExecutor(Config{BaseDelay: 100 * time.Millisecond}, tool)

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "flaky")}, tooltypes.Context{})
	require.Len(t, results, 1)

	result := results[0]
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RetryAttempts)
	assert.Equal(t, 3, tool.callCount())

	// Backoff 100ms then 200ms, each with up to 10% jitter.
	assert.GreaterOrEqual(t, result.TotalRetryDelay, 300*time.Millisecond)
	assert.LessOrEqual(t, result.TotalRetryDelay, 330*time.Millisecond)
}

func TestRetriesExhausted(t *testing.T) {
	tool := &scriptedTool{name: "down", errMsg: "service unavailable", failures: 100}
	executor := newTestExecutor(fastConfig(), tool)

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "down")}, tooltypes.Context{})
	result := results[0]

	assert.False(t, result.Success)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, tool.callCount())
	assert.Contains(t, result.ActionableError, "service unavailable")
}

func TestNonRetriableFailureRunsOnce(t *testing.T) {
	tool := &scriptedTool{name: "locked", errMsg: "permission denied", failures: 100}
	executor := newTestExecutor(fastConfig(), tool)

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "locked")}, tooltypes.Context{})
	result := results[0]

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.RetryAttempts)
	assert.Equal(t, 1, tool.callCount())
}

func TestValidationFailureIsTerminal(t *testing.T) {
	tool := &scriptedTool{name: "strict"}
	executor := newTestExecutor(fastConfig(), tool)

	calls := []llmtypes.ToolCall{{
		ID: "c1", Name: "strict", Arguments: json.RawMessage(`{"label":42}`),
	}}
	results := executor.ExecuteBatch(context.TODO(), calls, tooltypes.Context{})
	result := results[0]

	assert.False(t, result.Success)
	assert.Contains(t, result.ActionableError, "validation failed")
	assert.Equal(t, 0, tool.callCount(), "tool body must never run on invalid arguments")
}

func TestUnknownToolFails(t *testing.T) {
	executor := newTestExecutor(fastConfig())

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "ghost")}, tooltypes.Context{})
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].ActionableError, "unknown tool")
}

func TestDeniedCallNeverExecutes(t *testing.T) {
	tool := &scriptedTool{name: "blocked"}
	registry := NewRegistry(tool)
	approvals := approval.NewManager(approval.Policy{DisableAllTools: true}, nil)
	executor := NewExecutor(registry, approvals, fastConfig())

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "blocked")}, tooltypes.Context{})
	result := results[0]

	assert.True(t, result.Denied)
	assert.False(t, result.Success)
	assert.False(t, result.ShouldStop)
	assert.Equal(t, 0, tool.callCount())
}

func TestDenyWithStopSetsShouldStop(t *testing.T) {
	tool := &scriptedTool{name: "halted"}
	registry := NewRegistry(tool)
	approvals := approval.NewManager(approval.Policy{},
		func(ctx context.Context, req approval.Request) (approval.Decision, error) {
			return approval.Deny, approval.ErrStop
		})
	executor := NewExecutor(registry, approvals, fastConfig())

	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("c1", "halted")}, tooltypes.Context{})
	result := results[0]

	assert.True(t, result.Denied)
	assert.True(t, result.ShouldStop)
}

func TestCircuitBreaksAfterConsecutiveFailures(t *testing.T) {
	tool := &scriptedTool{name: "dying", errMsg: "permission denied", failures: 100}
	executor := newTestExecutor(fastConfig(), tool)

	ctx := context.TODO()
	for i := 0; i < 5; i++ {
		results := executor.ExecuteBatch(ctx, []llmtypes.ToolCall{call(fmt.Sprintf("c%d", i), "dying")}, tooltypes.Context{})
		assert.False(t, results[0].CircuitBroken, "call %d should reach the tool", i)
	}

	results := executor.ExecuteBatch(ctx, []llmtypes.ToolCall{call("c6", "dying")}, tooltypes.Context{})
	assert.True(t, results[0].CircuitBroken)
	assert.Equal(t, 5, tool.callCount(), "broken call never reaches the tool")
}

func TestBreakersArePerTool(t *testing.T) {
	bad := &scriptedTool{name: "bad", errMsg: "permission denied", failures: 100}
	good := &scriptedTool{name: "good"}
	executor := newTestExecutor(fastConfig(), bad, good)

	ctx := context.TODO()
	for i := 0; i < 6; i++ {
		executor.ExecuteBatch(ctx, []llmtypes.ToolCall{call(fmt.Sprintf("c%d", i), "bad")}, tooltypes.Context{})
	}

	results := executor.ExecuteBatch(ctx, []llmtypes.ToolCall{call("g1", "good")}, tooltypes.Context{})
	assert.True(t, results[0].Success, "healthy tool unaffected by the broken one")
}

func TestSequentialFallbackOnHighFailureRate(t *testing.T) {
	// Two of three calls fail with retriable errors; the failing subset is
	// rerun sequentially and flagged, the survivor is flagged degraded.
	flakyA := &scriptedTool{name: "flaky_a", errMsg: "connection refused", failures: 4}
	flakyB := &scriptedTool{name: "flaky_b", errMsg: "request timeout", failures: 4}
	steady := &scriptedTool{name: "steady"}
	executor := newTestExecutor(fastConfig(), flakyA, flakyB, steady)

	calls := []llmtypes.ToolCall{
		call("c1", "flaky_a"),
		call("c2", "flaky_b"),
		call("c3", "steady"),
	}
	results := executor.ExecuteBatch(context.TODO(), calls, tooltypes.Context{})
	require.Len(t, results, 3)

	assert.True(t, results[0].SequentialFallback)
	assert.True(t, results[0].Success, "second pass succeeds after failures are exhausted")
	assert.True(t, results[1].SequentialFallback)
	assert.True(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.True(t, results[2].GracefulDegradation)
	assert.False(t, results[2].SequentialFallback)
}

func TestBatchBelowFallbackThresholdLeftAlone(t *testing.T) {
	flaky := &scriptedTool{name: "flaky", errMsg: "connection refused", failures: 100}
	steady := &scriptedTool{name: "steady"}
	other := &scriptedTool{name: "other"}
	executor := newTestExecutor(fastConfig(), flaky, steady, other)

	calls := []llmtypes.ToolCall{
		call("c1", "flaky"),
		call("c2", "steady"),
		call("c3", "other"),
	}
	results := executor.ExecuteBatch(context.TODO(), calls, tooltypes.Context{})

	for _, result := range results {
		assert.False(t, result.SequentialFallback)
		assert.False(t, result.GracefulDegradation)
	}
}

func TestEmptyArgumentsDefaultToEmptyObject(t *testing.T) {
	tool := &scriptedTool{name: "probe"}
	executor := newTestExecutor(fastConfig(), tool)

	calls := []llmtypes.ToolCall{{ID: "c1", Name: "probe"}}
	results := executor.ExecuteBatch(context.TODO(), calls, tooltypes.Context{})
	assert.True(t, results[0].Success)
}

// interruptibleTool cancels its own context mid-execution while in
// interrupt mode, mimicking a user abort landing during a tool call.
type interruptibleTool struct {
	name string

	mu        sync.Mutex
	cancel    context.CancelFunc
	interrupt bool
}

func (t *interruptibleTool) Name() string        { return t.name }
func (t *interruptibleTool) Description() string { return "interruptible" }
func (t *interruptibleTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[scriptedInput]()
}
func (t *interruptibleTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true}
}
func (t *interruptibleTool) Execute(_ context.Context, _ tooltypes.Context, _ string) tooltypes.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interrupt {
		t.cancel()
		return tooltypes.ErrorResult("request timeout")
	}
	return tooltypes.ToolResult{Result: "ok"}
}

func (t *interruptibleTool) arm(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
	t.interrupt = true
}

func (t *interruptibleTool) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupt = false
}

func TestAbortedExecutionDoesNotTripBreaker(t *testing.T) {
	tool := &interruptibleTool{name: "net"}
	executor := newTestExecutor(fastConfig(), tool)

	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithCancel(context.TODO())
		tool.arm(cancel)
		results := executor.ExecuteBatch(ctx, []llmtypes.ToolCall{call(fmt.Sprintf("c%d", i), "net")}, tooltypes.Context{})
		cancel()
		assert.False(t, results[0].Success)
		assert.False(t, results[0].CircuitBroken, "aborted call %d must not open the circuit", i)
	}

	tool.disarm()
	results := executor.ExecuteBatch(context.TODO(), []llmtypes.ToolCall{call("fresh", "net")}, tooltypes.Context{})
	assert.True(t, results[0].Success, "tool stays healthy after aborted turns")
	assert.False(t, results[0].CircuitBroken)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	tool := &scriptedTool{name: "slow", errMsg: "request timeout", failures: 100}
	executor := newTestExecutor(Config{BaseDelay: 200 * time.Millisecond}, tool)

	ctx, cancel := context.WithCancel(context.TODO())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results := executor.ExecuteBatch(ctx, []llmtypes.ToolCall{call("c1", "slow")}, tooltypes.Context{})
	assert.False(t, results[0].Success)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation interrupts backoff sleeps")
}
