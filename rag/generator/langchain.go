package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLMGenerator answers with any langchaingo llms.Model.
type LLMGenerator struct {
	llm    llms.Model
	prompt *rag.PromptTemplate
	logger log.Logger
}

var _ rag.Generator = (*LLMGenerator)(nil)

// NewLLMGenerator wraps llm. The model's context window is fixed when the
// model client is built, see NewOllamaModel.
func NewLLMGenerator(llm llms.Model, opts ...Option) *LLMGenerator {
	o := newOptions(opts)
	return &LLMGenerator{
		llm:    llm,
		prompt: o.prompt,
		logger: o.logger,
	}
}

// Generate returns the model's full answer.
func (g *LLMGenerator) Generate(ctx context.Context, question, contextText string, params rag.GenerationParams) (string, error) {
	prompt := g.prompt.Render(question, contextText)
	g.logger.Debug("generate: prompt=%d chars max_tokens=%d temperature=%g", len(prompt), params.MaxOutputTokens, params.Temperature)

	resp, err := g.llm.GenerateContent(ctx, g.messages(prompt), g.callOptions(params)...)
	if err != nil {
		return "", &rag.GenerationError{Op: "generate", Err: err}
	}
	return firstChoice(resp), nil
}

// GenerateStream forwards every streamed chunk to observer in arrival order
// and returns the accumulated text.
func (g *LLMGenerator) GenerateStream(ctx context.Context, question, contextText string, params rag.GenerationParams, observer rag.StreamObserver) (string, error) {
	prompt := g.prompt.Render(question, contextText)
	g.logger.Debug("generate stream: prompt=%d chars max_tokens=%d temperature=%g", len(prompt), params.MaxOutputTokens, params.Temperature)

	var answer strings.Builder
	streamed := false
	stream := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		streamed = true
		fragment := string(chunk)
		answer.WriteString(fragment)
		if observer == nil {
			return nil
		}
		return observer(ctx, fragment)
	}

	opts := append(g.callOptions(params), llms.WithStreamingFunc(stream))
	resp, err := g.llm.GenerateContent(ctx, g.messages(prompt), opts...)
	if err != nil {
		return "", &rag.GenerationError{Op: "generate stream", Err: err}
	}

	// Some backends ignore the streaming func and only return the final
	// response. Deliver it as a single fragment.
	if !streamed {
		text := firstChoice(resp)
		if text != "" && observer != nil {
			if err := observer(ctx, text); err != nil {
				return "", &rag.GenerationError{Op: "generate stream", Err: err}
			}
		}
		return text, nil
	}

	return answer.String(), nil
}

func (g *LLMGenerator) messages(prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
}

func (g *LLMGenerator) callOptions(params rag.GenerationParams) []llms.CallOption {
	return []llms.CallOption{
		llms.WithMaxTokens(params.MaxOutputTokens),
		llms.WithTemperature(params.Temperature),
	}
}

func firstChoice(resp *llms.ContentResponse) string {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return ""
	}
	return resp.Choices[0].Content
}

// OllamaOptions configures a local Ollama model.
type OllamaOptions struct {
	ServerURL string
	Model     string
	// ContextWindow is passed as num_ctx.
	ContextWindow int
}

// NewOllamaModel builds an Ollama chat model with a fixed token window.
func NewOllamaModel(opts OllamaOptions) (*ollama.LLM, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	window := opts.ContextWindow
	if window <= 0 {
		window = rag.DefaultContextWindow
	}

	ollamaOpts := []ollama.Option{
		ollama.WithModel(opts.Model),
		ollama.WithRunnerNumCtx(window),
	}
	if opts.ServerURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithServerURL(opts.ServerURL))
	}

	llm, err := ollama.New(ollamaOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama model: %w", err)
	}
	return llm, nil
}

// OpenAIModelOptions configures a langchaingo OpenAI-compatible model.
type OpenAIModelOptions struct {
	BaseURL        string
	Token          string
	Model          string
	EmbeddingModel string
}

// NewOpenAIModel builds a langchaingo OpenAI client. It serves both chat and
// embeddings.
func NewOpenAIModel(opts OpenAIModelOptions) (*openai.LLM, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("openai token is required")
	}

	clientOpts := []openai.Option{openai.WithToken(opts.Token)}
	if opts.Model != "" {
		clientOpts = append(clientOpts, openai.WithModel(opts.Model))
	}
	if opts.EmbeddingModel != "" {
		clientOpts = append(clientOpts, openai.WithEmbeddingModel(opts.EmbeddingModel))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model: %w", err)
	}
	return llm, nil
}
