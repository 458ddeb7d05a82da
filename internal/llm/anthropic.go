package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/artifactflow/artifactflow/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive events that yield no output
// before the stream is treated as malformed. Guards against event
// floods burning CPU on a broken upstream.
const maxEmptyStreamEvents = 300

// defaultMaxTokens bounds responses when the request does not.
const defaultMaxTokens = 4096

// AnthropicProvider streams completions from the Anthropic Messages
// API. Safe for concurrent use; every Complete call owns its stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a provider. The API key is required;
// model and base URL fall back to defaults when empty.
func NewAnthropicProvider(apiKey, defaultModel, baseURL string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if defaultModel == "" {
		defaultModel = defaultAnthropicModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := p.model(req.Model)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages(req.Messages),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	// NewStreaming performs the HTTP exchange eagerly; a rejected
	// request surfaces on Err before any event is read.
	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *Chunk)
	go p.processStream(stream, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	defer close(chunks)

	usage := &models.TokenUsage{}
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Content: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &Chunk{Reasoning: delta.Thinking}
					processed = true
				}
			}

		case "message_delta":
			d := event.AsMessageDelta()
			if d.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(d.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &Chunk{Usage: usage, Done: true}
			return

		case "error":
			chunks <- &Chunk{Err: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &Chunk{Err: p.wrapError(
					fmt.Errorf("stream malformed: %d consecutive empty events", emptyEvents), model)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: p.wrapError(err, model)}
		return
	}

	// Stream ended without message_stop; treat as done.
	chunks <- &Chunk{Usage: usage, Done: true}
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped := NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				wrapped = wrapped.WithMessage(payload.Error.Message)
			}
		}
		return wrapped
	}

	return NewProviderError("anthropic", model, err)
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
