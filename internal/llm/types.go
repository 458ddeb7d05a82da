// Package llm defines the provider abstraction for streaming model
// completions, the retry policy around transient provider failures,
// and adapters for the Anthropic and OpenAI APIs.
package llm

import (
	"context"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// Provider is a streaming LLM backend.
//
// Implementations must be safe for concurrent use: multiple runs may
// call Complete simultaneously. The returned channel is closed by the
// provider after the final chunk (Done or Err set).
type Provider interface {
	// Name returns the provider key used in agent configuration.
	Name() string

	// Complete sends a request and streams the response. Errors that
	// occur before the stream starts are returned directly; errors
	// mid-stream arrive as a chunk with Err set.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation transcript sent to a
// provider. Tool results travel as user-role text; the protocol is
// plain text in both directions.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request carries one completion call.
type Request struct {
	// Model is the provider-specific model identifier. Empty selects
	// the provider default.
	Model string `json:"model"`

	// System sets the system prompt, handled out of band from
	// Messages by both supported APIs.
	System string `json:"system,omitempty"`

	// Messages is the transcript in chronological order, ending with
	// the turn the model should answer.
	Messages []Message `json:"messages"`

	// Temperature of 0 means provider default.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens bounds the response length. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Chunk is one streamed fragment of a completion.
//
// Exactly one of Content, Reasoning, Usage, or Err is meaningful per
// chunk; Done marks the final chunk of a successful stream and may
// accompany Usage.
type Chunk struct {
	// Content is partial response text.
	Content string `json:"content,omitempty"`

	// Reasoning is partial thinking text for models that expose it.
	// It is surfaced to the client but never fed back into history.
	Reasoning string `json:"reasoning,omitempty"`

	// Usage arrives with the final chunk.
	Usage *models.TokenUsage `json:"usage,omitempty"`

	// Done is true on the last chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Err terminates the stream when set.
	Err error `json:"-"`
}
