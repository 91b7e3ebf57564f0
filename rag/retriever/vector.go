package retriever

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
)

// SearchMode selects how the retriever turns index hits into evidence.
type SearchMode string

const (
	// SearchSimilarity returns the index hits unchanged, closest first.
	SearchSimilarity SearchMode = "similarity"
	// SearchMMR over-fetches and re-selects by maximal marginal relevance.
	// It must be enabled explicitly.
	SearchMMR SearchMode = "mmr"
)

// ParseSearchMode maps a config value to a SearchMode.
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SearchSimilarity:
		return SearchSimilarity, nil
	case SearchMMR:
		return SearchMMR, nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}

// Config configures a VectorRetriever.
type Config struct {
	Mode SearchMode
	// FetchK is the candidate pool size in MMR mode. Defaults to 4*k.
	FetchK int
	// Lambda balances relevance against diversity in MMR mode.
	Lambda float64
}

// VectorRetriever embeds a query once and runs a single nearest-neighbour
// query against the index.
type VectorRetriever struct {
	index    rag.VectorIndex
	embedder rag.Embedder
	config   Config
	logger   log.Logger
}

// Option configures a VectorRetriever.
type Option func(*VectorRetriever)

// WithConfig sets the search mode parameters.
func WithConfig(config Config) Option {
	return func(r *VectorRetriever) {
		r.config = config
	}
}

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(r *VectorRetriever) {
		r.logger = logger
	}
}

// NewVectorRetriever creates a new vector retriever
func NewVectorRetriever(index rag.VectorIndex, embedder rag.Embedder, opts ...Option) *VectorRetriever {
	r := &VectorRetriever{
		index:    index,
		embedder: embedder,
		config:   Config{Mode: SearchSimilarity},
		logger:   log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.config.Mode == "" {
		r.config.Mode = SearchSimilarity
	}
	if r.config.Lambda <= 0 || r.config.Lambda > 1 {
		r.config.Lambda = 0.5
	}
	return r
}

// Search returns up to k documents for query, most relevant first. A
// non-empty scope other than "None" restricts the search to that project.
// Zero matches is not an error.
func (r *VectorRetriever) Search(ctx context.Context, query string, k int, scope string) ([]rag.Document, error) {
	results, err := r.SearchWithScores(ctx, query, k, scope)
	if err != nil {
		return nil, err
	}

	docs := make([]rag.Document, len(results))
	for i, result := range results {
		docs[i] = result.Document
	}
	return docs, nil
}

// SearchWithScores is Search keeping the index scores.
func (r *VectorRetriever) SearchWithScores(ctx context.Context, query string, k int, scope string) ([]rag.SearchResult, error) {
	if k < 1 {
		return nil, &rag.RetrievalError{Op: "search", Err: fmt.Errorf("k must be >= 1, got %d", k)}
	}

	filter := rag.ScopeFilter(scope)
	r.logger.Debug("retrieve: query=%q k=%d filter=%v mode=%s", query, k, filter, r.config.Mode)

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, &rag.RetrievalError{Op: "embed query", Err: err}
	}

	n := k
	if r.config.Mode == SearchMMR {
		n = r.fetchK(k)
	}

	results, err := r.index.Query(ctx, queryEmbedding, n, filter)
	if err != nil {
		return nil, &rag.RetrievalError{Op: "vector query", Err: err}
	}
	if results == nil {
		results = []rag.SearchResult{}
	}

	if r.config.Mode == SearchMMR {
		results = applyMMR(results, k, r.config.Lambda)
	}

	r.logger.Debug("retrieve: %d documents", len(results))
	return results, nil
}

func (r *VectorRetriever) fetchK(k int) int {
	if r.config.FetchK >= k {
		return r.config.FetchK
	}
	return 4 * k
}

// applyMMR applies Maximal Marginal Relevance to ensure diversity
func applyMMR(results []rag.SearchResult, k int, lambda float64) []rag.SearchResult {
	if len(results) <= k {
		return results
	}

	selected := make([]rag.SearchResult, 0, k)
	selected = append(selected, results[0])

	candidates := make([]rag.SearchResult, len(results)-1)
	copy(candidates, results[1:])

	for len(selected) < k && len(candidates) > 0 {
		bestIdx := -1
		bestScore := 0.0

		for i, candidate := range candidates {
			maxSimilarity := 0.0
			for _, s := range selected {
				if sim := contentSimilarity(candidate.Document.Content, s.Document.Content); sim > maxSimilarity {
					maxSimilarity = sim
				}
			}

			// λ * relevance - (1-λ) * redundancy
			mmrScore := lambda*candidate.Score - (1-lambda)*maxSimilarity
			if bestIdx < 0 || mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}

		selected = append(selected, candidates[bestIdx])
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
	}

	return selected
}

// contentSimilarity is the Jaccard similarity of the word sets of a and b.
func contentSimilarity(a, b string) float64 {
	wordsA := make(map[string]bool)
	wordsB := make(map[string]bool)

	for _, word := range splitWords(a) {
		wordsA[word] = true
	}
	for _, word := range splitWords(b) {
		wordsB[word] = true
	}

	intersection := 0
	for word := range wordsA {
		if wordsB[word] {
			intersection++
		}
	}

	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 1.0
	}

	return float64(intersection) / float64(union)
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
}
