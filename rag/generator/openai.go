package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator talks to an OpenAI-compatible chat completions endpoint
// directly. The model's context window is owned by the hosted platform.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	prompt *rag.PromptTemplate
	logger log.Logger
}

var _ rag.Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator for model on client.
func NewOpenAIGenerator(client *openai.Client, model string, opts ...Option) (*OpenAIGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	o := newOptions(opts)
	return &OpenAIGenerator{
		client: client,
		model:  model,
		prompt: o.prompt,
		logger: o.logger,
	}, nil
}

// NewOpenAIClient builds a go-openai client, optionally against a compatible
// base URL.
func NewOpenAIClient(token, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (g *OpenAIGenerator) request(prompt string, params rag.GenerationParams, stream bool) openai.ChatCompletionRequest {
	temperature := float32(params.Temperature)
	if temperature == 0 {
		// A zero value is dropped by omitempty and the server default applies.
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   params.MaxOutputTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

// Generate returns the full completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, question, contextText string, params rag.GenerationParams) (string, error) {
	prompt := g.prompt.Render(question, contextText)
	g.logger.Debug("openai generate: model=%s prompt=%d chars", g.model, len(prompt))

	resp, err := g.client.CreateChatCompletion(ctx, g.request(prompt, params, false))
	if err != nil {
		return "", &rag.GenerationError{Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream forwards completion deltas to observer as they arrive.
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, question, contextText string, params rag.GenerationParams, observer rag.StreamObserver) (string, error) {
	prompt := g.prompt.Render(question, contextText)
	g.logger.Debug("openai generate stream: model=%s prompt=%d chars", g.model, len(prompt))

	stream, err := g.client.CreateChatCompletionStream(ctx, g.request(prompt, params, true))
	if err != nil {
		return "", &rag.GenerationError{Op: "chat completion stream", Err: err}
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &rag.GenerationError{Op: "chat completion stream", Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		fragment := resp.Choices[0].Delta.Content
		if fragment == "" {
			continue
		}
		answer.WriteString(fragment)
		if observer != nil {
			if err := observer(ctx, fragment); err != nil {
				return "", &rag.GenerationError{Op: "chat completion stream", Err: err}
			}
		}
	}

	return answer.String(), nil
}
