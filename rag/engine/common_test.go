package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/observance/ragcore/rag"
	"github.com/tmc/langchaingo/llms"
)

type searchCall struct {
	query string
	k     int
	scope string
}

type mockSearcher struct {
	mu    sync.Mutex
	calls []searchCall
	docs  []rag.Document
	err   error
	// block makes Search wait for the context to end.
	block bool
	// byScope answers with a single document whose content is the scope.
	byScope bool
}

func (m *mockSearcher) Search(ctx context.Context, query string, k int, scope string) ([]rag.Document, error) {
	m.mu.Lock()
	m.calls = append(m.calls, searchCall{query: query, k: k, scope: scope})
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.byScope {
		return []rag.Document{{Content: scope, Metadata: map[string]string{rag.MetaProjectID: scope}}}, nil
	}
	return m.docs, nil
}

func (m *mockSearcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSearcher) lastCall() searchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

type mockGenerator struct {
	mu       sync.Mutex
	calls    int
	contexts []string
	params   []rag.GenerationParams
	answer   string
	chunks   []string
	err      error
	// echo answers with the context it received.
	echo  bool
	delay time.Duration
}

func (m *mockGenerator) record(contextText string, params rag.GenerationParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.contexts = append(m.contexts, contextText)
	m.params = append(m.params, params)
}

func (m *mockGenerator) wait(ctx context.Context) error {
	if m.delay == 0 {
		return nil
	}
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockGenerator) Generate(ctx context.Context, question, contextText string, params rag.GenerationParams) (string, error) {
	m.record(contextText, params)
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	if m.echo {
		return contextText, nil
	}
	if len(m.chunks) > 0 {
		return strings.Join(m.chunks, ""), nil
	}
	return m.answer, nil
}

func (m *mockGenerator) GenerateStream(ctx context.Context, question, contextText string, params rag.GenerationParams, observer rag.StreamObserver) (string, error) {
	m.record(contextText, params)
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	var b strings.Builder
	for _, c := range m.chunks {
		b.WriteString(c)
		if err := observer(ctx, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// placeholderModel is a chat model that says whether the no-context
// placeholder reached its prompt.
type placeholderModel struct{}

func (placeholderModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	prompt := messages[0].Parts[0].(llms.TextContent).Text
	answer := "Réponse fondée sur le contexte."
	if strings.Contains(prompt, rag.NoContextPlaceholder) {
		answer = "Le contexte fourni est insuffisant pour répondre."
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m placeholderModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f fixedEmbedder) GetDimension() int { return len(f.vec) }

func doc(content, project string) rag.Document {
	return rag.Document{Content: content, Metadata: map[string]string{rag.MetaProjectID: project}}
}

func contents(docs []rag.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out
}
