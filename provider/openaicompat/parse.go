package openaicompat

import (
	"encoding/json"

	superagent "github.com/superagent-core/superagent"
)

// parseResponse converts a chat completions response to the adapter-neutral
// form. Content, tool calls, and finish reason come from choices[0].
func parseResponse(resp chatResponse, providerName string) superagent.LLMResponse {
	out := superagent.LLMResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: providerName,
	}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		out.FinishReason = c.FinishReason
		if c.Message != nil {
			out.Content = c.Message.Content
			out.ToolCalls = parseToolCalls(c.Message.ToolCalls)
		}
	}
	if resp.Usage != nil {
		out.Usage = superagent.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if out.Usage.TotalTokens == 0 {
			out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
		}
	}
	return out
}

// parseToolCalls converts wire tool calls. The API returns arguments as a
// JSON string; invalid fragments degrade to an empty object rather than
// poisoning the whole response.
func parseToolCalls(tcs []toolCallRequest) []superagent.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]superagent.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, superagent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Args:      args,
			Timestamp: superagent.NowUnix(),
		})
	}
	return out
}
