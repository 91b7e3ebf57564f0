package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/observance/ragcore/rag"
)

// InMemoryVectorStore is a brute-force cosine index held in memory. It backs
// tests and local development, seeded with LoadJSONL; production deployments
// query an external index.
type InMemoryVectorStore struct {
	mu         sync.RWMutex
	documents  []rag.Document
	embeddings [][]float32
	embedder   rag.Embedder
}

var _ rag.VectorIndex = (*InMemoryVectorStore)(nil)

// NewInMemoryVectorStore creates a new InMemoryVectorStore. The embedder is
// only needed by Add and LoadJSONL.
func NewInMemoryVectorStore(embedder rag.Embedder) *InMemoryVectorStore {
	return &InMemoryVectorStore{
		documents:  make([]rag.Document, 0),
		embeddings: make([][]float32, 0),
		embedder:   embedder,
	}
}

// AddWithEmbedding adds a document with an explicit embedding
func (s *InMemoryVectorStore) AddWithEmbedding(ctx context.Context, doc rag.Document, embedding []float32) error {
	return s.AddBatch(ctx, []rag.Document{doc}, [][]float32{embedding})
}

// Add embeds and stores documents
func (s *InMemoryVectorStore) Add(ctx context.Context, documents []rag.Document) error {
	if s.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}

	embeddings := make([][]float32, len(documents))
	for i, doc := range documents {
		embedding, err := s.embedder.EmbedQuery(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("failed to embed document: %w", err)
		}
		embeddings[i] = embedding
	}
	return s.AddBatch(ctx, documents, embeddings)
}

// AddBatch adds multiple documents with explicit embeddings
func (s *InMemoryVectorStore) AddBatch(ctx context.Context, documents []rag.Document, embeddings [][]float32) error {
	if len(documents) != len(embeddings) {
		return fmt.Errorf("documents and embeddings must have same length")
	}
	for _, doc := range documents {
		if doc.Content == "" {
			return fmt.Errorf("document %q has no content", doc.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = append(s.documents, documents...)
	s.embeddings = append(s.embeddings, embeddings...)
	return nil
}

type seedDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// LoadJSONL embeds and stores one document per JSON value read from r, in
// the form {"id": ..., "content": ..., "metadata": {...}}. Metadata values
// are stored as strings. It returns the number of documents added.
func (s *InMemoryVectorStore) LoadJSONL(ctx context.Context, r io.Reader) (int, error) {
	var docs []rag.Document
	dec := json.NewDecoder(r)
	for {
		var seed seedDocument
		err := dec.Decode(&seed)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("invalid seed document %d: %w", len(docs)+1, err)
		}

		doc := rag.Document{
			ID:       seed.ID,
			Content:  seed.Content,
			Metadata: make(map[string]string, len(seed.Metadata)),
		}
		for k, v := range seed.Metadata {
			doc.Metadata[k] = metadataString(v)
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return 0, nil
	}
	if err := s.Add(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Query returns the n documents closest to embedding among those matching
// filter. Ties keep insertion order.
func (s *InMemoryVectorStore) Query(ctx context.Context, embedding []float32, n int, filter map[string]string) ([]rag.SearchResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type docScore struct {
		index int
		score float64
	}

	scores := make([]docScore, 0, len(s.documents))
	for i, doc := range s.documents {
		if !matchesFilter(doc, filter) {
			continue
		}
		scores = append(scores, docScore{index: i, score: cosineSimilarity32(embedding, s.embeddings[i])})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if n > len(scores) {
		n = len(scores)
	}

	results := make([]rag.SearchResult, n)
	for i := 0; i < n; i++ {
		results[i] = rag.SearchResult{
			Document: cloneDocument(s.documents[scores[i].index]),
			Score:    scores[i].score,
		}
	}
	return results, nil
}

// Count returns the number of stored documents
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

func matchesFilter(doc rag.Document, filter map[string]string) bool {
	for key, value := range filter {
		docValue, exists := doc.Metadata[key]
		if !exists || docValue != value {
			return false
		}
	}
	return true
}

func cloneDocument(doc rag.Document) rag.Document {
	meta := make(map[string]string, len(doc.Metadata))
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	doc.Metadata = meta
	return doc
}

// cosineSimilarity32 calculates cosine similarity between two float32 vectors
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
