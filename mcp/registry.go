package mcp

import (
	"context"
	"encoding/json"

	superagent "github.com/superagent-core/superagent"
)

// FromRegistry exposes every tool in the registry as an MCP tool handler.
// Tool-level failures map to MCP error results; infrastructure failures
// surface the Go error message the same way, since MCP has no richer
// channel for them.
func FromRegistry(reg *superagent.ToolRegistry) []ToolHandler {
	defs := reg.AllDefinitions()
	handlers := make([]ToolHandler, 0, len(defs))
	for _, def := range defs {
		handlers = append(handlers, ToolHandler{
			Definition: ToolDefinition{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: json.RawMessage(def.Parameters),
			},
			Execute: executeFunc(reg, def.Name),
		})
	}
	return handlers
}

func executeFunc(reg *superagent.ToolRegistry, name string) func(context.Context, json.RawMessage) ToolCallResult {
	return func(ctx context.Context, args json.RawMessage) ToolCallResult {
		res, err := reg.Execute(ctx, name, args)
		if err != nil {
			return ErrorResult(err.Error())
		}
		if res.Error != "" {
			return ErrorResult(res.Error)
		}
		return TextResult(res.Content)
	}
}
