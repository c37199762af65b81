package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

const maxListedFiles = 100

// FileListTool lists directory entries, optionally filtered by a glob.
type FileListTool struct{}

// FileListInput is the parameter schema for file_list.
type FileListInput struct {
	Path    string `json:"path" jsonschema:"required,description=Directory to list, absolute or relative to the working directory"`
	Pattern string `json:"pattern,omitempty" jsonschema:"description=Glob pattern applied to entry names, e.g. *.go"`
}

func (t *FileListTool) Name() string {
	return "file_list"
}

func (t *FileListTool) Description() string {
	return `List the entries of a directory.

Directories are suffixed with a slash. An optional glob pattern filters entry names. At most 100 entries are returned.`
}

func (t *FileListTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[FileListInput]()
}

func (t *FileListTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Title: "List files", ReadOnly: true}
}

func (t *FileListTool) Execute(_ context.Context, tctx tooltypes.Context, parameters string) tooltypes.ToolResult {
	var input FileListInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return tooltypes.ErrorResult("invalid input: %v", err)
	}

	path := input.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(tctx.WorkingDirectory, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tooltypes.ErrorResult("failed to list directory: %v", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if input.Pattern != "" {
			matched, err := filepath.Match(input.Pattern, name)
			if err != nil {
				return tooltypes.ErrorResult("invalid input: bad pattern %q: %v", input.Pattern, err)
			}
			if !matched {
				continue
			}
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if len(names) > maxListedFiles {
		names = names[:maxListedFiles]
		truncated = true
	}

	var out strings.Builder
	for _, name := range names {
		out.WriteString(name)
		out.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&out, "\n[Results truncated to %d entries. Use a pattern to narrow down.]\n", maxListedFiles)
	}
	return tooltypes.ToolResult{Result: out.String()}
}
