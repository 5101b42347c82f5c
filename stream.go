package superagent

import "strings"

// StreamBuffer accumulates chunks of one streaming generation so the caller
// can recover the equivalent unary response. Not safe for concurrent use;
// one buffer belongs to one stream consumer.
type StreamBuffer struct {
	chunks       []LLMStreamChunk
	content      strings.Builder
	id           string
	model        string
	finishReason string
	usage        *Usage
}

// NewStreamBuffer creates an empty buffer.
func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{}
}

// Add appends one chunk. The first chunk fixes the stream's ID and model;
// a final chunk's finish reason and usage, when present, are retained.
func (b *StreamBuffer) Add(chunk LLMStreamChunk) {
	if b.id == "" {
		b.id = chunk.ID
		b.model = chunk.Model
	}
	b.chunks = append(b.chunks, chunk)
	b.content.WriteString(chunk.Delta)
	if chunk.FinishReason != "" {
		b.finishReason = chunk.FinishReason
	}
	if chunk.Usage != nil {
		b.usage = chunk.Usage
	}
}

// Len returns the number of chunks received.
func (b *StreamBuffer) Len() int { return len(b.chunks) }

// Content returns the concatenation of all deltas in arrival order.
func (b *StreamBuffer) Content() string { return b.content.String() }

// Response converts the accumulated stream into the equivalent unary
// response. When no chunk reported usage, completion tokens are estimated
// as the word count of the content.
func (b *StreamBuffer) Response() LLMResponse {
	resp := LLMResponse{
		ID:           b.id,
		Model:        b.model,
		Content:      b.content.String(),
		FinishReason: b.finishReason,
	}
	if b.usage != nil {
		resp.Usage = *b.usage
	} else {
		completion := len(strings.Fields(resp.Content))
		resp.Usage = Usage{CompletionTokens: completion, TotalTokens: completion}
	}
	return resp
}
