package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

// ThinkingTool gives the model a scratchpad. It performs no side effects;
// the value is in the recorded reasoning.
type ThinkingTool struct{}

// ThinkingInput is the parameter schema for thinking.
type ThinkingInput struct {
	Thought string `json:"thought" jsonschema:"required,description=The thought to record"`
}

func (t *ThinkingTool) Name() string {
	return "thinking"
}

func (t *ThinkingTool) Description() string {
	return `Record a thought while working through a complex problem.

Use this to reason step by step before acting. The thought is logged and echoed back; nothing else happens.`
}

func (t *ThinkingTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[ThinkingInput]()
}

func (t *ThinkingTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Title: "Think", ReadOnly: true}
}

func (t *ThinkingTool) Execute(_ context.Context, _ tooltypes.Context, parameters string) tooltypes.ToolResult {
	var input ThinkingInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return tooltypes.ErrorResult("invalid input: %v", err)
	}
	if input.Thought == "" {
		return tooltypes.ErrorResult("invalid input: thought is required")
	}
	return tooltypes.ToolResult{Result: "Thought recorded."}
}
