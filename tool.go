package superagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// registeredTool binds one definition to the tool that serves it, with its
// compiled parameter schema.
type registeredTool struct {
	def    ToolDefinition
	tool   Tool
	schema *jsonschema.Schema
}

// ToolRegistry holds all registered tools and dispatches execution. Every
// call's arguments are validated against the tool's JSON Schema before the
// tool runs. Safe for concurrent use after registration.
type ToolRegistry struct {
	mu    sync.RWMutex
	byName map[string]*registeredTool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: make(map[string]*registeredTool)}
}

// Add registers a tool under each of its definition names, compiling the
// parameter schemas. Registering a name again replaces the previous binding.
func (r *ToolRegistry) Add(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range t.Definitions() {
		if def.Name == "" {
			return &ValidationError{Field: "name", Message: "tool definition has empty name"}
		}
		var schema *jsonschema.Schema
		if len(def.Parameters) > 0 {
			compiler := jsonschema.NewCompiler()
			url := "inmem://tools/" + def.Name + ".json"
			if err := compiler.AddResource(url, bytes.NewReader(def.Parameters)); err != nil {
				return &ToolValidationError{Tool: def.Name, Message: "invalid parameter schema: " + err.Error()}
			}
			compiled, err := compiler.Compile(url)
			if err != nil {
				return &ToolValidationError{Tool: def.Name, Message: "invalid parameter schema: " + err.Error()}
			}
			schema = compiled
		}
		if _, exists := r.byName[def.Name]; !exists {
			r.order = append(r.order, def.Name)
		}
		r.byName[def.Name] = &registeredTool{def: def, tool: t, schema: schema}
	}
	return nil
}

// Definition returns the named tool's definition and whether it exists.
func (r *ToolRegistry) Definition(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.byName[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return rt.def, true
}

// AllDefinitions returns every registered definition in registration order.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].def)
	}
	return defs
}

// Validate checks that name is registered and args satisfy its parameter
// schema. Unknown tools return ToolNotFoundError; schema violations return
// ToolValidationError.
func (r *ToolRegistry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	rt, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolNotFoundError{Tool: name}
	}
	if rt.schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ToolValidationError{Tool: name, Message: "arguments are not valid JSON: " + err.Error()}
	}
	if err := rt.schema.Validate(decoded); err != nil {
		return &ToolValidationError{Tool: name, Message: err.Error()}
	}
	return nil
}

// Execute validates args and dispatches the call. Tool-reported failures
// come back in ToolResult.Error with a nil error; infrastructure failures
// (unknown tool, invalid args) return an error.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	if err := r.Validate(name, args); err != nil {
		return ToolResult{}, err
	}
	r.mu.RLock()
	rt := r.byName[name]
	r.mu.RUnlock()
	return rt.tool.Execute(ctx, name, args)
}

// FuncTool adapts a plain function to the Tool interface for one definition.
type FuncTool struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

func (t *FuncTool) Definitions() []ToolDefinition { return []ToolDefinition{t.Def} }

func (t *FuncTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	if name != t.Def.Name {
		return ToolResult{}, &ToolNotFoundError{Tool: name}
	}
	return t.Fn(ctx, args)
}

// NewFuncTool builds a single-function tool from a name, description, and
// raw JSON Schema for its parameters.
func NewFuncTool(name, description string, params json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (ToolResult, error)) *FuncTool {
	return &FuncTool{
		Def: ToolDefinition{Name: name, Description: description, Parameters: params},
		Fn:  fn,
	}
}

var _ Tool = (*FuncTool)(nil)

// DecodeArgs unmarshals raw tool arguments into a typed struct, reporting
// schema-style errors on failure.
func DecodeArgs[T any](name string, args json.RawMessage) (T, error) {
	var out T
	if len(args) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(args, &out); err != nil {
		return out, &ToolValidationError{Tool: name, Message: fmt.Sprintf("cannot decode arguments: %v", err)}
	}
	return out, nil
}
