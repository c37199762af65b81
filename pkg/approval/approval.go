// Package approval implements the safety gate consulted by the tool
// executor before every tool invocation.
package approval

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/logger"
	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

// ErrStop is returned (wrapped or bare) by a RequestFunc when the user
// asked to halt the whole turn, not just deny one call.
var ErrStop = errors.New("execution stopped by user")

// Decision is the outcome of an approval check.
type Decision string

const (
	AllowOnce    Decision = "allow_once"
	AllowSession Decision = "allow_session"
	Deny         Decision = "deny"
)

// Request is handed to the external UI collaborator when policy rules
// don't settle the decision.
type Request struct {
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments"`
	IsReadOnly bool            `json:"isReadOnly"`
	RequestID  string          `json:"requestId"`
}

// RequestFunc prompts the user and returns their decision.
type RequestFunc func(ctx context.Context, req Request) (Decision, error)

// Policy captures the CLI-level approval rules, evaluated in order.
type Policy struct {
	DisableAllTools          bool
	DisableTools             []string
	AutoApproveTools         []string
	AllowNonDestructiveTools bool
}

// Manager evaluates the policy, maintains the per-session allow cache and
// falls through to the user prompt. One Manager per agent session.
type Manager struct {
	policy  Policy
	request RequestFunc

	mu      sync.Mutex
	session map[string]bool // tools granted allow_session
}

// NewManager creates an approval manager. A nil request func default-denies
// anything the policy rules don't allow.
func NewManager(policy Policy, request RequestFunc) *Manager {
	return &Manager{
		policy:  policy,
		request: request,
		session: make(map[string]bool),
	}
}

// RequestFunc returns the configured prompt callback; delegates inherit it.
func (m *Manager) RequestFunc() RequestFunc {
	return m.request
}

// Check runs the rule chain for one tool invocation. First matching rule
// wins; errors from the prompt callback surface as Deny.
func (m *Manager) Check(ctx context.Context, tool tooltypes.Tool, arguments json.RawMessage, requestID string) (Decision, error) {
	name := tool.Name()

	if m.policy.DisableAllTools {
		return Deny, nil
	}
	if contains(m.policy.DisableTools, name) {
		return Deny, nil
	}
	if contains(m.policy.AutoApproveTools, name) {
		return AllowOnce, nil
	}
	if m.policy.AllowNonDestructiveTools && tool.Annotations().ReadOnly {
		return AllowOnce, nil
	}

	m.mu.Lock()
	cached := m.session[name]
	m.mu.Unlock()
	if cached {
		return AllowOnce, nil
	}

	if m.request == nil {
		return Deny, nil
	}

	decision, err := m.request(ctx, Request{
		ToolName:   name,
		Arguments:  arguments,
		IsReadOnly: tool.Annotations().ReadOnly,
		RequestID:  requestID,
	})
	if err != nil {
		logger.G(ctx).WithError(err).WithField("tool", name).Warn("approval callback failed, denying")
		return Deny, err
	}

	if decision == AllowSession {
		m.mu.Lock()
		m.session[name] = true
		m.mu.Unlock()
		return AllowOnce, nil
	}
	return decision, nil
}

func contains(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}
