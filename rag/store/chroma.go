package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/observance/ragcore/rag"
)

// includeDistances has no named constant in the client.
const includeDistances chroma.Include = "distances"

// ErrReadOnlyCollection is returned if the client ever asks the index to
// embed text. Queries always carry a precomputed embedding.
var ErrReadOnlyCollection = errors.New("chroma index only queries with precomputed embeddings")

// ChromaOptions configuration for a Chroma server
type ChromaOptions struct {
	URL        string
	Tenant     string // Default "default_tenant"
	Database   string // Default "default_database"
	Collection string
	Token      string
	HTTPClient *http.Client
}

// ChromaIndex queries an existing Chroma collection through the v2 API
// client. It never writes to the collection.
type ChromaIndex struct {
	client     chroma.Client
	collection string

	mu  sync.Mutex
	col chroma.Collection
}

var _ rag.VectorIndex = (*ChromaIndex)(nil)

// NewChromaIndex creates a Chroma-backed index. The collection is resolved
// on first use or by Resolve.
func NewChromaIndex(opts ChromaOptions) (*ChromaIndex, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("chroma url is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("chroma collection is required")
	}

	tenant := opts.Tenant
	if tenant == "" {
		tenant = chroma.DefaultTenant
	}
	database := opts.Database
	if database == "" {
		database = chroma.DefaultDatabase
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	clientOpts := []chroma.ClientOption{
		chroma.WithBaseURL(opts.URL),
		chroma.WithDatabaseAndTenant(database, tenant),
		chroma.WithHTTPClient(httpClient),
	}
	if opts.Token != "" {
		clientOpts = append(clientOpts, chroma.WithAuth(
			chroma.NewTokenAuthCredentialsProvider(opts.Token, chroma.AuthorizationTokenHeader),
		))
	}

	client, err := chroma.NewHTTPClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	return &ChromaIndex{
		client:     client,
		collection: opts.Collection,
	}, nil
}

// Resolve looks up the collection. A missing collection is an error.
func (c *ChromaIndex) Resolve(ctx context.Context) error {
	_, err := c.resolve(ctx)
	return err
}

func (c *ChromaIndex) resolve(ctx context.Context) (chroma.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.col != nil {
		return c.col, nil
	}

	col, err := c.client.GetCollection(ctx, c.collection,
		chroma.WithEmbeddingFunctionGet(queryOnlyEmbeddingFunction{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection %q: %w", c.collection, err)
	}
	if col.ID() == "" {
		return nil, fmt.Errorf("collection %q not found", c.collection)
	}

	c.col = col
	return col, nil
}

// Query runs a nearest-neighbour query. Chroma returns hits by ascending
// distance, which is kept as is.
func (c *ChromaIndex) Query(ctx context.Context, embedding []float32, n int, filter map[string]string) ([]rag.SearchResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive")
	}

	col, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	queryOpts := []chroma.CollectionQueryOption{
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(embedding)),
		chroma.WithNResults(n),
		chroma.WithIncludeQuery(chroma.IncludeDocuments, chroma.IncludeMetadatas, includeDistances),
	}
	if where := chromaWhere(filter); where != nil {
		queryOpts = append(queryOpts, chroma.WithWhereQuery(where))
	}

	res, err := col.Query(ctx, queryOpts...)
	if err != nil {
		return nil, fmt.Errorf("chroma query failed: %w", err)
	}
	return chromaResults(res), nil
}

// Count returns the number of records in the collection
func (c *ChromaIndex) Count(ctx context.Context) (int, error) {
	col, err := c.resolve(ctx)
	if err != nil {
		return 0, err
	}

	n, err := col.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("chroma count failed: %w", err)
	}
	return n, nil
}

// Close releases idle connections
func (c *ChromaIndex) Close() error {
	return c.client.Close()
}

func chromaResults(res chroma.QueryResult) []rag.SearchResult {
	groups := res.GetDocumentsGroups()
	if len(groups) == 0 {
		return []rag.SearchResult{}
	}

	var (
		ids       chroma.DocumentIDs
		metadatas chroma.DocumentMetadatas
		distances embeddings.Distances
	)
	if g := res.GetIDGroups(); len(g) > 0 {
		ids = g[0]
	}
	if g := res.GetMetadatasGroups(); len(g) > 0 {
		metadatas = g[0]
	}
	if g := res.GetDistancesGroups(); len(g) > 0 {
		distances = g[0]
	}

	docs := groups[0]
	results := make([]rag.SearchResult, 0, len(docs))
	for i, content := range docs {
		if content == nil {
			continue
		}

		doc := rag.Document{
			Content:  content.ContentString(),
			Metadata: map[string]string{},
		}
		if i < len(ids) {
			doc.ID = string(ids[i])
		}
		if i < len(metadatas) && metadatas[i] != nil {
			doc.Metadata = chromaMetadata(metadatas[i])
		}

		score := 0.0
		if i < len(distances) {
			score = 1 - float64(distances[i])
		}
		results = append(results, rag.SearchResult{Document: doc, Score: score})
	}
	return results
}

// chromaMetadata flattens a record's metadata to strings. Integral floats
// lose their ".0" so ids read the way the indexing job wrote them.
func chromaMetadata(md chroma.DocumentMetadata) map[string]string {
	out := map[string]string{}
	keyed, ok := md.(interface{ Keys() []string })
	if !ok {
		return out
	}

	for _, k := range keyed.Keys() {
		if s, ok := md.GetString(k); ok {
			out[k] = s
		} else if i, ok := md.GetInt(k); ok {
			out[k] = strconv.FormatInt(i, 10)
		} else if f, ok := md.GetFloat(k); ok {
			out[k] = metadataString(f)
		} else if b, ok := md.GetBool(k); ok {
			out[k] = strconv.FormatBool(b)
		}
	}
	return out
}

// chromaWhere builds a where clause. Chroma needs an explicit $and for more
// than one condition.
func chromaWhere(filter map[string]string) chroma.WhereFilter {
	if len(filter) == 0 {
		return nil
	}

	clauses := make([]chroma.WhereClause, 0, len(filter))
	for _, k := range sortedKeys(filter) {
		clauses = append(clauses, chroma.EqString(k, filter[k]))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return chroma.And(clauses...)
}

// queryOnlyEmbeddingFunction satisfies the client's collection handle. The
// index never sends text, so neither method is reached.
type queryOnlyEmbeddingFunction struct{}

func (queryOnlyEmbeddingFunction) EmbedDocuments(ctx context.Context, texts []string) ([]embeddings.Embedding, error) {
	return nil, ErrReadOnlyCollection
}

func (queryOnlyEmbeddingFunction) EmbedQuery(ctx context.Context, text string) (embeddings.Embedding, error) {
	return nil, ErrReadOnlyCollection
}
