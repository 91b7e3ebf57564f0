package rag

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
)

// LangChainEmbedder adapts a langchaingo embeddings.Embedder to Embedder.
// Query vectors are always unit-normalized so cosine and euclidean ranking
// agree with the way the corpus was indexed.
type LangChainEmbedder struct {
	embedder embeddings.Embedder
	prefix   string

	dimOnce sync.Once
	dim     int
}

// LangChainEmbedderOption configures a LangChainEmbedder.
type LangChainEmbedderOption func(*LangChainEmbedder)

// WithQueryPrefix prepends prefix to every query before embedding, as
// required by instruction-tuned models such as the e5 family ("query: ").
func WithQueryPrefix(prefix string) LangChainEmbedderOption {
	return func(l *LangChainEmbedder) {
		l.prefix = prefix
	}
}

// WithDimension sets a known dimension and skips the probe call.
func WithDimension(dim int) LangChainEmbedderOption {
	return func(l *LangChainEmbedder) {
		if dim > 0 {
			l.dimOnce.Do(func() {})
			l.dim = dim
		}
	}
}

// NewLangChainEmbedder creates a new adapter for langchaingo embedders
func NewLangChainEmbedder(embedder embeddings.Embedder, opts ...LangChainEmbedderOption) *LangChainEmbedder {
	l := &LangChainEmbedder{
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EmbedQuery embeds a single query with the underlying langchaingo embedder
func (l *LangChainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embedding, err := l.embedder.EmbedQuery(ctx, l.prefix+text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedder returned an empty vector")
	}

	result := make([]float32, len(embedding))
	for i, val := range embedding {
		result[i] = float32(val)
	}
	return Normalize(result), nil
}

// GetDimension returns the embedding dimension. Without WithDimension it is
// probed once by embedding a short text.
func (l *LangChainEmbedder) GetDimension() int {
	l.dimOnce.Do(func() {
		testEmbedding, err := l.embedder.EmbedQuery(context.Background(), l.prefix+"test")
		if err != nil {
			return
		}
		l.dim = len(testEmbedding)
	})
	return l.dim
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
