package retriever

import (
	"context"
	"sync"

	"github.com/observance/ragcore/rag"
)

type mockEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.vec == nil {
		return []float32{1, 0}, nil
	}
	return m.vec, nil
}

func (m *mockEmbedder) GetDimension() int { return 2 }

type indexCall struct {
	n      int
	filter map[string]string
}

// mockIndex returns a fixed ranked list, honouring n and equality filters.
type mockIndex struct {
	results []rag.SearchResult
	err     error
	calls   []indexCall
}

func (m *mockIndex) Query(ctx context.Context, embedding []float32, n int, filter map[string]string) ([]rag.SearchResult, error) {
	m.calls = append(m.calls, indexCall{n: n, filter: filter})
	if m.err != nil {
		return nil, m.err
	}

	var out []rag.SearchResult
	for _, r := range m.results {
		match := true
		for k, v := range filter {
			if r.Document.Metadata[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (m *mockIndex) Count(ctx context.Context) (int, error) {
	return len(m.results), m.err
}

func hit(content, project string, score float64) rag.SearchResult {
	return rag.SearchResult{
		Document: rag.Document{
			Content:  content,
			Metadata: map[string]string{rag.MetaProjectID: project},
		},
		Score: score,
	}
}

func contents(docs []rag.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out
}
