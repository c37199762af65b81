package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/lacehq/lace/pkg/agent"
	"github.com/lacehq/lace/pkg/approval"
	"github.com/lacehq/lace/pkg/db"
	"github.com/lacehq/lace/pkg/eventbus"
	"github.com/lacehq/lace/pkg/llm"
	"github.com/lacehq/lace/pkg/presenter"
	"github.com/lacehq/lace/pkg/sysprompt"
	"github.com/lacehq/lace/pkg/threads"
	"github.com/lacehq/lace/pkg/tools"
	"github.com/lacehq/lace/pkg/usage"
)

// session owns everything one CLI invocation needs: the store, the agent
// and the console renderer attached to the bus.
type session struct {
	agent    *agent.Agent
	bus      *eventbus.Bus
	store    threads.EventStore
	renderer *renderer
	stdin    *bufio.Reader
}

func newSession(ctx context.Context, stdin *bufio.Reader) (*session, error) {
	modelSpec := viper.GetString("provider") + ":" + viper.GetString("model")
	providerCfg := llm.Config{
		APIKey:        viper.GetString("api_key"),
		BaseURL:       viper.GetString("base_url"),
		MaxTokens:     viper.GetInt("max_tokens"),
		CacheStrategy: viper.GetString("cache_strategy"),
	}
	provider, err := llm.New(modelSpec, providerCfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	manager := threads.NewManager(store)

	threadID, err := resolveThreadID(ctx, manager, viper.GetString("continue"))
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := eventbus.New()
	wd, err := os.Getwd()
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := tools.NewRegistry(
		&tools.FileReadTool{},
		&tools.FileListTool{},
		&tools.ThinkingTool{},
	)

	policy := approval.Policy{
		DisableAllTools:          viper.GetBool("disable_all_tools"),
		DisableTools:             viper.GetStringSlice("disable_tools"),
		AutoApproveTools:         viper.GetStringSlice("auto_approve_tools"),
		AllowNonDestructiveTools: viper.GetBool("allow_non_destructive_tools"),
	}

	request := agent.BridgeApprovalRequests(bus, consoleApproval(stdin))
	if viper.GetBool("disable_tool_guardrails") {
		request = func(ctx context.Context, req approval.Request) (approval.Decision, error) {
			return approval.AllowOnce, nil
		}
	}

	delegate, err := agent.NewDelegateTool(agent.DelegateOptions{
		Threads:          manager,
		Registry:         registry,
		Factory:          llm.NewProvider,
		ProviderConfig:   providerCfg,
		DefaultModelSpec: modelSpec,
		ApprovalPolicy:   policy,
		ApprovalRequest:  request,
		Bus:              bus,
		WorkingDirectory: wd,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	registry.Register(delegate)

	approvals := approval.NewManager(policy, request)
	executor := tools.NewExecutor(registry, approvals, tools.Config{})

	systemPrompt, err := sysprompt.SystemPrompt(sysprompt.NewPromptContext(wd, registry.Names()))
	if err != nil {
		store.Close()
		return nil, err
	}

	a, err := agent.New(agent.Options{
		ThreadID:   threadID,
		Provider:   provider,
		Threads:    manager,
		Executor:   executor,
		Bus:        bus,
		Accountant: usage.NewAccountant(),
		Config: agent.Config{
			SystemPrompt:     systemPrompt,
			WorkingDirectory: wd,
			CacheStrategy:    providerCfg.CacheStrategy,
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &session{
		agent:    a,
		bus:      bus,
		store:    store,
		renderer: newRenderer(os.Stdout, bus),
		stdin:    stdin,
	}
	if err := a.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// continueLatest is the value the bare --continue flag resolves to.
const continueLatest = "latest"

// resolveThreadID maps the --continue flag value to a thread id: empty
// starts a new thread, "latest" resumes the most recent root thread and
// anything else names an existing thread directly.
func resolveThreadID(ctx context.Context, manager *threads.Manager, continueVal string) (string, error) {
	switch continueVal {
	case "":
		return "", nil
	case continueLatest:
		id, err := manager.LatestThread(ctx)
		if err != nil {
			return "", errors.Wrap(err, "failed to look up the most recent conversation")
		}
		if id == "" {
			return "", errors.New("no conversation to continue")
		}
		return id, nil
	default:
		exists, err := manager.ThreadExists(ctx, continueVal)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", errors.Errorf("unknown thread: %s", continueVal)
		}
		return continueVal, nil
	}
}

func openStore(ctx context.Context) (threads.EventStore, error) {
	if viper.GetBool("no_persist") {
		return threads.NewMemoryStore(), nil
	}
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return threads.NewSQLiteStore(ctx, path)
}

// Close detaches the renderer and closes the store.
func (s *session) Close() {
	s.renderer.Close()
	s.store.Close()
}

func (s *session) printUsage() {
	presenter.Stats(s.agent.Accountant().Stats())
}

// consoleApproval prompts on stdout/stdin for a tool approval decision.
func consoleApproval(stdin *bufio.Reader) approval.RequestFunc {
	return func(ctx context.Context, req approval.Request) (approval.Decision, error) {
		fmt.Printf("\n[approval] %s %s\n", req.ToolName, string(req.Arguments))
		fmt.Print("Allow? [y]es / [s]ession / [n]o / [q]uit turn: ")

		line, err := stdin.ReadString('\n')
		if err != nil {
			return approval.Deny, errors.Wrap(err, "failed to read approval answer")
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return approval.AllowOnce, nil
		case "s", "session":
			return approval.AllowSession, nil
		case "q", "quit":
			return approval.Deny, approval.ErrStop
		default:
			return approval.Deny, nil
		}
	}
}
