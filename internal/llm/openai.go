package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/artifactflow/artifactflow/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider streams completions from the OpenAI chat API. Also
// serves OpenAI-compatible gateways via BaseURL.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds a provider. The API key is required; model
// and base URL fall back to defaults when empty.
func NewOpenAIProvider(apiKey, defaultModel, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if defaultModel == "" {
		defaultModel = defaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := p.model(req.Model)

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      openaiMessages(req.Messages, req.System),
		MaxTokens:     maxTokensOrDefault(req.MaxTokens),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	usage := &models.TokenUsage{}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- &Chunk{Usage: usage, Done: true}
				return
			}
			chunks <- &Chunk{Err: p.wrapError(err, model)}
			return
		}

		// With IncludeUsage the final frame carries usage and no
		// choices.
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &Chunk{Content: delta.Content}
		}
		if delta.ReasoningContent != "" {
			chunks <- &Chunk{Reasoning: delta.ReasoningContent}
		}
	}
}

func openaiMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError("openai", model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError("openai", model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewProviderError("openai", model, err)
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}
