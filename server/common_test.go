package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/store/memory"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	mu     sync.Mutex
	docs   []rag.Document
	err    error
	scopes []string
	ks     []int
}

func (s *stubSearcher) Search(ctx context.Context, query string, k int, scope string) ([]rag.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = append(s.scopes, scope)
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func (s *stubSearcher) lastScope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopes[len(s.scopes)-1]
}

type stubGenerator struct {
	mu     sync.Mutex
	answer string
	chunks []string
	err    error
	params []rag.GenerationParams
}

func (g *stubGenerator) Generate(ctx context.Context, question, contextText string, params rag.GenerationParams) (string, error) {
	g.mu.Lock()
	g.params = append(g.params, params)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *stubGenerator) GenerateStream(ctx context.Context, question, contextText string, params rag.GenerationParams, observer rag.StreamObserver) (string, error) {
	g.mu.Lock()
	g.params = append(g.params, params)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	var sb strings.Builder
	for _, c := range g.chunks {
		if err := observer(ctx, c); err != nil {
			return sb.String(), err
		}
		sb.WriteString(c)
	}
	return sb.String(), nil
}

func (g *stubGenerator) lastParams() rag.GenerationParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params[len(g.params)-1]
}

type stubCounter struct {
	n   int
	err error
}

func (c stubCounter) Count(ctx context.Context) (int, error) {
	return c.n, c.err
}

type fixture struct {
	searcher  *stubSearcher
	generator *stubGenerator
	sessions  *memory.MemorySessionStore
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		searcher: &stubSearcher{docs: []rag.Document{
			{ID: "c1", Content: "Le budget est de 2M€.", Metadata: map[string]string{rag.MetaProjectID: "7", rag.MetaFileID: "f1"}},
			{ID: "c2", Content: "Livraison en 2025.", Metadata: map[string]string{rag.MetaProjectID: "7", rag.MetaFileID: "f2"}},
		}},
		generator: &stubGenerator{answer: "Le **budget** est de 2M€.", chunks: []string{"Le ", "budget"}},
		sessions:  memory.NewMemorySessionStore(),
	}

	eng, err := engine.New(f.searcher, f.generator, engine.WithLogger(&log.NoOpLogger{}))
	require.NoError(t, err)

	s, err := New(eng, stubCounter{n: 3}, WithSessions(f.sessions), WithLogger(&log.NoOpLogger{}))
	require.NoError(t, err)
	f.handler = s.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

var errIndexDown = errors.New("index down")
