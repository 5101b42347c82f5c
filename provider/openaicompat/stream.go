package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	superagent "github.com/superagent-core/superagent"
)

// streamSSE reads a chat completions SSE stream from body, forwards deltas
// into ch, and returns the fully accumulated response. The channel belongs
// to the caller and stays open.
//
// Wire format:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- superagent.LLMStreamChunk, providerName string) (superagent.LLMResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var streamID, model, finishReason string
	var finalUsage *superagent.Usage

	// Tool calls stream incrementally: each fragment carries an index and
	// argument text arrives in pieces.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}
		if chunk.ID != "" {
			streamID = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			finalUsage = &superagent.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
			if finalUsage.TotalTokens == 0 {
				finalUsage.TotalTokens = finalUsage.PromptTokens + finalUsage.CompletionTokens
			}
		}
		if len(chunk.Choices) == 0 {
			continue // usage-only chunk
		}

		c := chunk.Choices[0]
		if c.FinishReason != "" {
			finishReason = c.FinishReason
		}
		delta := c.Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- superagent.LLMStreamChunk{
				ID:    streamID,
				Model: model,
				Delta: delta.Content,
				Role:  delta.Role,
			}:
			case <-ctx.Done():
				return superagent.LLMResponse{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return superagent.LLMResponse{}, err
	}

	var calls []superagent.ToolCall
	for _, tc := range toolCalls {
		args := json.RawMessage(tc.Args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, superagent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Args:      args,
			Timestamp: superagent.NowUnix(),
		})
	}

	resp := superagent.LLMResponse{
		ID:           streamID,
		Model:        model,
		Content:      fullContent.String(),
		FinishReason: finishReason,
		ToolCalls:    calls,
		Provider:     providerName,
	}
	if finalUsage != nil {
		resp.Usage = *finalUsage
	}

	// The final chunk reports the finish reason and usage once the text is
	// fully delivered.
	final := superagent.LLMStreamChunk{
		ID:           streamID,
		Model:        model,
		FinishReason: finishReason,
		ToolCalls:    calls,
		Usage:        finalUsage,
	}
	select {
	case ch <- final:
	case <-ctx.Done():
		return superagent.LLMResponse{}, ctx.Err()
	}
	return resp, nil
}
