package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

const maxReadLines = 2000

// FileReadTool reads a text file with optional offset/limit windows.
type FileReadTool struct{}

// FileReadInput is the parameter schema for file_read.
type FileReadInput struct {
	Path   string `json:"path" jsonschema:"required,description=Absolute or working-directory-relative path of the file to read"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=1-based line number to start reading from"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to return"`
}

func (t *FileReadTool) Name() string {
	return "file_read"
}

func (t *FileReadTool) Description() string {
	return `Read the contents of a text file.

Returns numbered lines. Use offset and limit to window large files; at most 2000 lines are returned per call.`
}

func (t *FileReadTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[FileReadInput]()
}

func (t *FileReadTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Title: "Read file", ReadOnly: true}
}

func (t *FileReadTool) Execute(_ context.Context, tctx tooltypes.Context, parameters string) tooltypes.ToolResult {
	var input FileReadInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return tooltypes.ErrorResult("invalid input: %v", err)
	}

	path := input.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(tctx.WorkingDirectory, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return tooltypes.ErrorResult("failed to read file: %v", err)
	}

	lines := strings.Split(string(raw), "\n")
	start := input.Offset
	if start < 1 {
		start = 1
	}
	if start > len(lines) {
		return tooltypes.ErrorResult("offset %d is beyond end of file (%d lines)", start, len(lines))
	}

	limit := input.Limit
	if limit <= 0 || limit > maxReadLines {
		limit = maxReadLines
	}
	end := start - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var out strings.Builder
	for i := start - 1; i < end; i++ {
		fmt.Fprintf(&out, "%d: %s\n", i+1, lines[i])
	}
	if end < len(lines) {
		fmt.Fprintf(&out, "\n[Truncated at line %d of %d. Use offset to continue.]\n", end, len(lines))
	}
	return tooltypes.ToolResult{Result: out.String()}
}
