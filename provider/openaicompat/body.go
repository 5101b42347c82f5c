package openaicompat

import (
	"encoding/json"

	superagent "github.com/superagent-core/superagent"
)

// buildBody converts a validated request into the chat completions wire
// format. Tool messages carry their originating call id via ToolCallRefs;
// everything else maps one to one.
func buildBody(req superagent.LLMRequest, model string) chatRequest {
	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		wire := message{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		}
		if m.Role == superagent.RoleTool && len(m.ToolCallRefs) > 0 {
			wire.ToolCallID = m.ToolCallRefs[0]
		}
		msgs = append(msgs, wire)
	}

	if model == "" {
		model = req.Model
	}
	temp := req.Temperature
	topP := req.TopP
	out := chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Seed:        req.Seed,
		User:        req.User,
	}
	if len(req.Tools) > 0 {
		out.Tools = buildToolDefs(req.Tools)
	}
	if req.ToolChoice != "" {
		out.ToolChoice = req.ToolChoice
	}
	return out
}

// buildToolDefs converts tool definitions to the OpenAI function format.
func buildToolDefs(tools []superagent.ToolDefinition) []tool {
	out := make([]tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, tool{
			Type: "function",
			Function: function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
