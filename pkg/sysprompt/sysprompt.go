// Package sysprompt renders the system prompts for the main agent and for
// delegated sub-agents from embedded templates.
package sysprompt

import (
	"embed"
	"io/fs"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

//go:embed templates/*.tmpl
var TemplateFS embed.FS

// PromptContext carries the values templates interpolate.
type PromptContext struct {
	WorkingDirectory string
	Date             string
	ToolNames        []string
}

// NewPromptContext builds a context for the current environment.
func NewPromptContext(workingDirectory string, toolNames []string) *PromptContext {
	return &PromptContext{
		WorkingDirectory: workingDirectory,
		Date:             time.Now().Format("2006-01-02"),
		ToolNames:        toolNames,
	}
}

// Renderer provides prompt template rendering.
type Renderer struct {
	templates *template.Template
	parseErr  error
}

var defaultRenderer = NewRenderer(TemplateFS)

// NewRenderer parses all templates from the given filesystem.
func NewRenderer(fsys fs.FS) *Renderer {
	renderer := &Renderer{}
	renderer.templates, renderer.parseErr = template.New("templates").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(fsys, "templates/*.tmpl")
	return renderer
}

// Render executes a named template with the provided context.
func (r *Renderer) Render(name string, promptCtx *PromptContext) (string, error) {
	if r.parseErr != nil {
		return "", errors.Wrap(r.parseErr, "failed to initialize templates")
	}
	if r.templates.Lookup(name) == nil {
		return "", errors.Errorf("template %s not found", name)
	}

	var buf strings.Builder
	if err := r.templates.ExecuteTemplate(&buf, name, promptCtx); err != nil {
		return "", errors.Wrapf(err, "failed to execute template %s", name)
	}
	return buf.String(), nil
}

// SystemPrompt renders the main agent prompt.
func SystemPrompt(promptCtx *PromptContext) (string, error) {
	return defaultRenderer.Render("system.tmpl", promptCtx)
}

// SubagentPrompt renders the prompt for delegated sub-agents.
func SubagentPrompt(promptCtx *PromptContext) (string, error) {
	return defaultRenderer.Render("subagent.tmpl", promptCtx)
}
