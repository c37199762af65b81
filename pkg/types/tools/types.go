// Package tools defines the tool interface consumed by the executor and
// implemented by built-in and external tools.
package tools

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is one callable capability exposed to the model. Schemas are
// generated with invopop/jsonschema and validated by the executor before
// Execute is ever invoked.
type Tool interface {
	Name() string
	Description() string
	GenerateSchema() *jsonschema.Schema
	Annotations() Annotations
	Execute(ctx context.Context, tctx Context, parameters string) ToolResult
}

// Annotations describe safety-relevant tool behavior consumed by the
// approval policy.
type Annotations struct {
	Title       string `json:"title,omitempty"`
	ReadOnly    bool   `json:"readOnlyHint,omitempty"`
	Destructive bool   `json:"destructiveHint,omitempty"`
	OpenWorld   bool   `json:"openWorldHint,omitempty"`
}

// Context carries per-invocation metadata into a tool. Cancellation flows
// through the context.Context passed to Execute.
type Context struct {
	// SessionID identifies the agent session issuing the call; delegates
	// run under their own session id.
	SessionID        string
	ThreadID         string
	ParentThreadID   string
	WorkingDirectory string
}

// ToolResult is the raw outcome of a tool body. A non-empty Error marks
// the result as failed.
type ToolResult struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

// IsError reports whether the result represents a failure.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// AssistantFacing returns the representation fed back to the model.
func (r ToolResult) AssistantFacing() string {
	if r.IsError() {
		return fmt.Sprintf("error: %s", r.Error)
	}
	return r.Result
}

// ErrorResult builds a failed tool result.
func ErrorResult(format string, args ...any) ToolResult {
	return ToolResult{Error: fmt.Sprintf(format, args...)}
}
