package rag

import (
	"context"
	"fmt"
)

// Metadata keys carried by every indexed chunk.
const (
	MetaProjectID  = "project_id"
	MetaFileID     = "file_id"
	MetaChunkIndex = "chunk_index"
)

// Default query parameters.
const (
	DefaultTopK            = 4
	DefaultMaxContextChars = 6000
	DefaultNumPredict      = 256
	DefaultTemperature     = 0.2

	// DefaultContextWindow is the token ceiling handed to the model. It is
	// independent of DefaultMaxContextChars and is not derived from it.
	DefaultContextWindow = 4096
)

// Document is a retrieved evidence passage. Documents are produced by the
// retriever and treated as read-only values afterwards.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// ProjectID returns the project the passage belongs to, or "" when unscoped.
func (d Document) ProjectID() string {
	return d.Metadata[MetaProjectID]
}

// FileID returns the source file identifier.
func (d Document) FileID() string {
	return d.Metadata[MetaFileID]
}

// ChunkIndex returns the chunk position inside the source file.
func (d Document) ChunkIndex() string {
	return d.Metadata[MetaChunkIndex]
}

// SearchResult is a single hit returned by a VectorIndex, closest first.
type SearchResult struct {
	Document Document
	Score    float64
}

// Embedder turns query text into a fixed-dimension vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	GetDimension() int
}

// VectorIndex is the read side of an external nearest-neighbour store.
// Implementations return at most n results ordered by decreasing similarity
// and apply filter as metadata equality. A nil or empty filter means no
// filtering.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, n int, filter map[string]string) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
}

// StreamObserver receives generated fragments in order. Returning an error
// aborts the generation.
type StreamObserver func(ctx context.Context, fragment string) error

// GenerationParams bounds a single model call.
type GenerationParams struct {
	MaxOutputTokens int
	Temperature     float64
}

// Generator produces an answer for a question from an assembled context.
type Generator interface {
	Generate(ctx context.Context, question, contextText string, params GenerationParams) (string, error)
	GenerateStream(ctx context.Context, question, contextText string, params GenerationParams, observer StreamObserver) (string, error)
}

// QueryOptions are the per-call parameters of a question.
type QueryOptions struct {
	K               int     `json:"k" validate:"gte=1"`
	MaxContextChars int     `json:"max_context_chars" validate:"gt=0"`
	NumPredict      int     `json:"num_predict" validate:"gt=0"`
	Temperature     float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// DefaultQueryOptions returns the documented defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		K:               DefaultTopK,
		MaxContextChars: DefaultMaxContextChars,
		NumPredict:      DefaultNumPredict,
		Temperature:     DefaultTemperature,
	}
}

// WithDefaults fills zero fields from def.
func (o QueryOptions) WithDefaults(def QueryOptions) QueryOptions {
	if o.K == 0 {
		o.K = def.K
	}
	if o.MaxContextChars == 0 {
		o.MaxContextChars = def.MaxContextChars
	}
	if o.NumPredict == 0 {
		o.NumPredict = def.NumPredict
	}
	return o
}

// Validate checks the query constraints.
func (o QueryOptions) Validate() error {
	switch {
	case o.K < 1:
		return fmt.Errorf("k must be >= 1, got %d", o.K)
	case o.MaxContextChars <= 0:
		return fmt.Errorf("max context chars must be > 0, got %d", o.MaxContextChars)
	case o.NumPredict <= 0:
		return fmt.Errorf("num predict must be > 0, got %d", o.NumPredict)
	case o.Temperature < 0 || o.Temperature > 2:
		return fmt.Errorf("temperature must be in [0, 2], got %g", o.Temperature)
	}
	return nil
}

// Params returns the generation bounds of the query.
func (o QueryOptions) Params() GenerationParams {
	return GenerationParams{
		MaxOutputTokens: o.NumPredict,
		Temperature:     o.Temperature,
	}
}

// IsUnscoped reports whether scope means "search the whole corpus". Only the
// empty string and "None" qualify; any other value is matched verbatim.
func IsUnscoped(scope string) bool {
	return scope == "" || scope == "None"
}

// ScopeFilter translates a project scope into an index filter.
func ScopeFilter(scope string) map[string]string {
	if IsUnscoped(scope) {
		return nil
	}
	return map[string]string{MetaProjectID: scope}
}
