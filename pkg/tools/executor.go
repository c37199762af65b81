package tools

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/lacehq/lace/pkg/approval"
	"github.com/lacehq/lace/pkg/logger"
	"github.com/lacehq/lace/pkg/telemetry"
	llmtypes "github.com/lacehq/lace/pkg/types/llm"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

var tracer = telemetry.Tracer("lace.tools")

// Config tunes the executor. Zero values take the defaults below.
type Config struct {
	MaxConcurrentTools int64
	MaxRetries         int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	BackoffMultiplier  float64
	BreakerThreshold   int
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns the stock executor tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTools: 10,
		MaxRetries:         3,
		BaseDelay:          100 * time.Millisecond,
		MaxDelay:           5 * time.Second,
		BackoffMultiplier:  2,
		BreakerThreshold:   5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = def.MaxConcurrentTools
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	return c
}

// ExecutionResult is the normalized outcome of one tool call.
type ExecutionResult struct {
	Call                llmtypes.ToolCall
	Result              tooltypes.ToolResult
	Success             bool
	Denied              bool
	Approved            bool
	ShouldStop          bool
	CircuitBroken       bool
	RetryAttempts       int
	TotalRetryDelay     time.Duration
	SequentialFallback  bool
	GracefulDegradation bool
	ActionableError     string
}

// Executor runs tool-call batches with approval gating, schema validation,
// retry with backoff, per-tool circuit breaking and bounded parallelism.
// One executor per agent; breakers are never shared across agents.
type Executor struct {
	registry  *Registry
	approvals *approval.Manager
	config    Config
	sem       *semaphore.Weighted

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

// NewExecutor creates an executor over the given registry and approval
// manager.
func NewExecutor(registry *Registry, approvals *approval.Manager, config Config) *Executor {
	config = config.withDefaults()
	return &Executor{
		registry:  registry,
		approvals: approvals,
		config:    config,
		sem:       semaphore.NewWeighted(config.MaxConcurrentTools),
		breakers:  make(map[string]*circuitBreaker),
	}
}

// Registry exposes the executor's registry, used by delegation to build
// restricted copies.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// ExecuteBatch runs a batch of tool calls in parallel under the
// concurrency semaphore. Results preserve input order even when calls
// complete out of order, and one call's failure never cancels its peers.
//
// Fallback policy: when more than half the batch fails and more than one
// failure is retriable, the failing subset is rerun sequentially and
// marked SequentialFallback; surviving successes from the parallel pass
// are marked GracefulDegradation.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []llmtypes.ToolCall, tctx tooltypes.Context) []ExecutionResult {
	results := make([]ExecutionResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llmtypes.ToolCall) {
			defer wg.Done()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				results[i] = ExecutionResult{
					Call:            call,
					Result:          tooltypes.ErrorResult("aborted: %v", err),
					ActionableError: err.Error(),
				}
				return
			}
			defer e.sem.Release(1)
			results[i] = e.executeOne(ctx, call, tctx)
		}(i, call)
	}
	wg.Wait()

	e.applyFallback(ctx, calls, tctx, results)
	return results
}

func (e *Executor) applyFallback(ctx context.Context, calls []llmtypes.ToolCall, tctx tooltypes.Context, results []ExecutionResult) {
	if len(calls) < 2 {
		return
	}

	var failed []int
	retriableFailures := 0
	var batchErr *multierror.Error
	for i, result := range results {
		if result.Success || result.Denied || result.CircuitBroken {
			continue
		}
		failed = append(failed, i)
		batchErr = multierror.Append(batchErr, errors.New(result.ActionableError))
		if isRetriableMessage(result.ActionableError) {
			retriableFailures++
		}
	}

	if len(failed)*2 <= len(calls) || retriableFailures <= 1 {
		return
	}

	logger.G(ctx).WithFields(map[string]any{
		"failed": len(failed),
		"total":  len(calls),
		"errors": batchErr.Error(),
	}).Warn("batch failure rate above threshold, retrying failed calls sequentially")

	for _, i := range failed {
		result := e.executeOne(ctx, calls[i], tctx)
		result.SequentialFallback = true
		results[i] = result
	}
	for i := range results {
		if results[i].Success && !results[i].SequentialFallback {
			results[i].GracefulDegradation = true
		}
	}
}

func (e *Executor) executeOne(ctx context.Context, call llmtypes.ToolCall, tctx tooltypes.Context) ExecutionResult {
	out := ExecutionResult{Call: call}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		out.Result = tooltypes.ErrorResult("unknown tool: %s", call.Name)
		out.ActionableError = out.Result.Error
		return out
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	if err := e.registry.ValidateArguments(call.Name, args); err != nil {
		out.Result = tooltypes.ToolResult{Error: err.Error()}
		out.ActionableError = err.Error()
		return out
	}

	decision, err := e.approvals.Check(ctx, tool, args, call.ID)
	if decision == approval.Deny {
		out.Denied = true
		out.ShouldStop = errors.Is(err, approval.ErrStop)
		out.Result = tooltypes.ErrorResult("tool execution denied: %s", call.Name)
		out.ActionableError = out.Result.Error
		return out
	}
	out.Approved = true

	breaker := e.breaker(call.Name)
	if !breaker.allow() {
		out.CircuitBroken = true
		out.Result = tooltypes.ErrorResult("circuit open for tool: %s", call.Name)
		out.ActionableError = out.Result.Error
		return out
	}

	result, attempts, totalDelay, execErr := e.runWithRetry(ctx, tool, tctx, string(args))
	out.Result = result
	out.RetryAttempts = attempts
	out.TotalRetryDelay = totalDelay

	if execErr != nil || result.IsError() {
		// An aborted turn says nothing about the tool's health.
		if ctx.Err() == nil {
			breaker.recordFailure()
		}
		if out.Result.Error == "" {
			out.Result.Error = execErr.Error()
		}
		out.ActionableError = out.Result.Error
		return out
	}

	breaker.recordSuccess()
	out.Success = true
	return out
}

// runWithRetry executes the tool body, retrying retriable failures with
// exponential backoff plus up to 10% uniform jitter. The context aborts
// both attempts and backoff sleeps.
func (e *Executor) runWithRetry(ctx context.Context, tool tooltypes.Tool, tctx tooltypes.Context, parameters string) (tooltypes.ToolResult, int, time.Duration, error) {
	var result tooltypes.ToolResult
	attempts := 0
	var totalDelay time.Duration

	delayFn := func(n uint, _ error, _ *retry.Config) time.Duration {
		// retry-go hands DelayType a 1-based attempt index at sleep time;
		// the first retry must back off by BaseDelay exactly.
		exponent := float64(0)
		if n > 0 {
			exponent = float64(n - 1)
		}
		delay := time.Duration(float64(e.config.BaseDelay) * math.Pow(e.config.BackoffMultiplier, exponent))
		if delay > e.config.MaxDelay {
			delay = e.config.MaxDelay
		}
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
		totalDelay += delay
		return delay
	}

	err := retry.Do(
		func() error {
			ctx, span := tracer.Start(ctx, "tools.execute."+tool.Name(),
				trace.WithAttributes(attribute.String("tool", tool.Name())))
			defer span.End()

			result = tool.Execute(ctx, tctx, parameters)
			if result.IsError() {
				span.SetStatus(codes.Error, result.Error)
				return errors.New(result.Error)
			}
			span.SetStatus(codes.Ok, "")
			return nil
		},
		retry.RetryIf(func(err error) bool {
			return isRetriableMessage(err.Error())
		}),
		retry.Attempts(uint(e.config.MaxRetries)+1),
		retry.DelayType(delayFn),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			attempts = int(n) + 1
			logger.G(ctx).WithError(err).WithFields(map[string]any{
				"tool":    tool.Name(),
				"attempt": n + 1,
			}).Warn("retrying tool execution")
		}),
	)
	return result, attempts, totalDelay, err
}

func (e *Executor) breaker(toolName string) *circuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	breaker, ok := e.breakers[toolName]
	if !ok {
		breaker = newCircuitBreaker(e.config.BreakerThreshold, e.config.BreakerOpenTimeout)
		e.breakers[toolName] = breaker
	}
	return breaker
}
