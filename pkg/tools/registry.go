// Package tools provides the tool registry and the gated executor that
// runs model-requested tool calls with approval, retry, circuit breaking
// and bounded parallelism.
package tools

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v5"

	tooltypes "github.com/lacehq/lace/pkg/types/tools"
)

// GenerateSchema reflects a JSON schema from an input struct type.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Registry maps tool names to tools. Registries are explicit values passed
// at construction; there is no global registry.
type Registry struct {
	mu       sync.RWMutex
	names    []string
	tools    map[string]tooltypes.Tool
	compiled map[string]*schemavalidator.Schema
}

// NewRegistry creates a registry holding the given tools in order.
func NewRegistry(tools ...tooltypes.Tool) *Registry {
	r := &Registry{
		tools:    make(map[string]tooltypes.Tool),
		compiled: make(map[string]*schemavalidator.Schema),
	}
	for _, tool := range tools {
		r.Register(tool)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool tooltypes.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.names = append(r.names, name)
	}
	r.tools[name] = tool
	delete(r.compiled, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (tooltypes.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []tooltypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tooltypes.Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name])
	}
	return out
}

// Restricted returns a copy of the registry without the excluded tools.
// Delegation uses this to hand sub-agents the parent's tools minus the
// delegate tool itself.
func (r *Registry) Restricted(exclude ...string) *Registry {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	out := NewRegistry()
	for _, tool := range r.Tools() {
		if !excluded[tool.Name()] {
			out.Register(tool)
		}
	}
	return out
}

// ValidateArguments checks raw JSON arguments against the tool's generated
// schema. Validation failures are terminal: the tool body never runs and
// the error is not retried.
func (r *Registry) ValidateArguments(name string, arguments []byte) error {
	r.mu.Lock()
	compiled, ok := r.compiled[name]
	if !ok {
		tool, exists := r.tools[name]
		if !exists {
			r.mu.Unlock()
			return errors.Errorf("unknown tool: %s", name)
		}
		raw, err := json.Marshal(tool.GenerateSchema())
		if err != nil {
			r.mu.Unlock()
			return errors.Wrapf(err, "failed to marshal schema for tool %s", name)
		}
		compiled, err = schemavalidator.CompileString(name+".schema.json", string(raw))
		if err != nil {
			r.mu.Unlock()
			return errors.Wrapf(err, "failed to compile schema for tool %s", name)
		}
		r.compiled[name] = compiled
	}
	r.mu.Unlock()

	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return errors.Wrap(err, "validation failed: arguments are not valid JSON")
	}
	if err := compiled.Validate(decoded); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
