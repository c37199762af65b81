package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/approval"
	"github.com/lacehq/lace/pkg/eventbus"
	"github.com/lacehq/lace/pkg/llm"
	"github.com/lacehq/lace/pkg/logger"
	"github.com/lacehq/lace/pkg/sysprompt"
	"github.com/lacehq/lace/pkg/threads"
	"github.com/lacehq/lace/pkg/tools"
	"github.com/lacehq/lace/pkg/types/events"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

const (
	// DelegateToolName is excluded from sub-agent registries, so delegates
	// never delegate further.
	DelegateToolName = "delegate"

	delegateTimeout      = 5 * time.Minute
	delegateTokenBudget  = 50000
	delegateWarningRatio = 0.70
	delegateTokenReserve = 1000
)

// DelegateInput is the parameter schema for delegate.
type DelegateInput struct {
	Title            string `json:"title" jsonschema:"required,description=Short human-readable task title"`
	Prompt           string `json:"prompt" jsonschema:"required,description=Complete instructions for the sub-agent"`
	ExpectedResponse string `json:"expected_response,omitempty" jsonschema:"description=What a good answer looks like"`
	Model            string `json:"model,omitempty" jsonschema:"description=Model spec as provider:model, defaults to the parent's model"`
}

// DelegateOptions wires the delegate tool to its parent session's
// collaborators.
type DelegateOptions struct {
	Threads *threads.Manager
	// Registry is the parent's tool registry; the sub-agent receives a
	// restricted copy without the delegate tool.
	Registry *tools.Registry
	// Factory builds providers for child model specs; tests inject mocks.
	Factory llm.Factory
	// ProviderConfig seeds child provider construction.
	ProviderConfig llm.Config
	// DefaultModelSpec is used when the input names no model.
	DefaultModelSpec string
	// ApprovalPolicy and ApprovalRequest are inherited by the sub-agent. A
	// fresh session cache is created per delegation; a nil request func
	// default-denies.
	ApprovalPolicy  approval.Policy
	ApprovalRequest approval.RequestFunc
	// Bus receives the child's lifecycle events alongside the parent's.
	// Nil gives each child a private bus.
	Bus              *eventbus.Bus
	WorkingDirectory string
	ExecutorConfig   tools.Config
	Timeout          time.Duration
}

// DelegateTool spawns a sub-agent on a child thread, runs one task to
// completion and returns the sub-agent's responses.
type DelegateTool struct {
	opts DelegateOptions
}

// NewDelegateTool creates the delegate tool.
func NewDelegateTool(opts DelegateOptions) (*DelegateTool, error) {
	if opts.Threads == nil {
		return nil, errors.New("delegate requires a thread manager")
	}
	if opts.Registry == nil {
		return nil, errors.New("delegate requires a tool registry")
	}
	if opts.Factory == nil {
		return nil, errors.New("delegate requires a provider factory")
	}
	if opts.DefaultModelSpec == "" {
		return nil, errors.New("delegate requires a default model spec")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = delegateTimeout
	}
	return &DelegateTool{opts: opts}, nil
}

func (t *DelegateTool) Name() string {
	return DelegateToolName
}

func (t *DelegateTool) Description() string {
	return `Delegate a self-contained task to a sub-agent running on its own conversation thread.

The sub-agent has the same tools except delegation itself, works independently and returns its findings when done. Give it complete instructions; it cannot see this conversation.`
}

func (t *DelegateTool) GenerateSchema() *jsonschema.Schema {
	return tools.GenerateSchema[DelegateInput]()
}

func (t *DelegateTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Title: "Delegate task"}
}

func (t *DelegateTool) Execute(ctx context.Context, tctx tooltypes.Context, parameters string) tooltypes.ToolResult {
	var input DelegateInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return tooltypes.ErrorResult("invalid input: %v", err)
	}
	if input.Title == "" || input.Prompt == "" {
		return tooltypes.ErrorResult("invalid input: title and prompt are required")
	}

	modelSpec := input.Model
	if modelSpec == "" {
		modelSpec = t.opts.DefaultModelSpec
	}
	providerName, model, err := llm.ParseModelSpec(modelSpec)
	if err != nil {
		return tooltypes.ErrorResult("invalid model: %v", err)
	}
	provider, err := t.opts.Factory(providerName, model, t.opts.ProviderConfig)
	if err != nil {
		return tooltypes.ErrorResult("failed to create provider: %v", err)
	}

	delegateID, err := t.opts.Threads.GenerateDelegateThreadID(ctx, tctx.ThreadID)
	if err != nil {
		return tooltypes.ErrorResult("failed to allocate delegate thread: %v", err)
	}

	child, err := t.newChildAgent(provider, delegateID, tctx)
	if err != nil {
		return tooltypes.ErrorResult("failed to start sub-agent: %v", err)
	}

	childCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	logger.G(ctx).WithFields(map[string]any{
		"delegate_thread": delegateID,
		"title":           input.Title,
		"model":           modelSpec,
	}).Info("delegating task")

	if err := child.Start(childCtx); err != nil {
		return tooltypes.ErrorResult("failed to start sub-agent: %v", err)
	}

	task := "Task: " + input.Title + "\n\n" + input.Prompt
	if input.ExpectedResponse != "" {
		task += "\n\nExpected response: " + input.ExpectedResponse
	}

	if _, err := child.SendMessage(childCtx, task); err != nil && !errors.Is(err, ErrIterationLimit) {
		if childCtx.Err() != nil {
			child.Abort()
			return tooltypes.ErrorResult("delegated task timed out after %s", t.opts.Timeout)
		}
		return tooltypes.ErrorResult("delegated task failed: %v", err)
	}

	report, err := t.collectResponses(ctx, delegateID)
	if err != nil {
		return tooltypes.ErrorResult("failed to collect sub-agent responses: %v", err)
	}
	if report == "" {
		report = "(the sub-agent produced no response)"
	}
	return tooltypes.ToolResult{Result: report}
}

func (t *DelegateTool) newChildAgent(provider llm.Provider, delegateID string, tctx tooltypes.Context) (*Agent, error) {
	restricted := t.opts.Registry.Restricted(DelegateToolName)
	approvals := approval.NewManager(t.opts.ApprovalPolicy, t.opts.ApprovalRequest)
	executor := tools.NewExecutor(restricted, approvals, t.opts.ExecutorConfig)

	prompt, err := sysprompt.SubagentPrompt(sysprompt.NewPromptContext(t.opts.WorkingDirectory, restricted.Names()))
	if err != nil {
		return nil, err
	}

	return New(Options{
		ThreadID:       delegateID,
		ParentThreadID: tctx.ThreadID,
		Provider:       provider,
		Threads:        t.opts.Threads,
		Executor:       executor,
		Bus:            t.opts.Bus,
		Config: Config{
			SystemPrompt:      prompt,
			WorkingDirectory:  t.opts.WorkingDirectory,
			ContextWindow:     delegateTokenBudget,
			TokenWarningRatio: delegateWarningRatio,
			TokenReserve:      delegateTokenReserve,
		},
	})
}

// collectResponses joins the child's AGENT_MESSAGE texts with blank lines.
func (t *DelegateTool) collectResponses(ctx context.Context, delegateID string) (string, error) {
	log, err := t.opts.Threads.Events(ctx, delegateID)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, event := range log {
		if event.Type != events.EventAgentMessage {
			continue
		}
		if data, ok := event.Data.(events.MessageData); ok && data.Text != "" {
			parts = append(parts, data.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
