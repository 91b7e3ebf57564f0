package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/observance/ragcore/rag"
)

// MilvusOptions configuration for a Milvus collection
type MilvusOptions struct {
	Address      string
	APIKey       string
	Collection   string
	VectorField  string   // Default "embedding"
	ContentField string   // Default "content"
	MetaFields   []string // Default project_id, file_id, chunk_index
}

// MilvusIndex runs ANN searches against a loaded Milvus collection. Scalar
// metadata is stored as VarChar fields next to the vector.
type MilvusIndex struct {
	client       *milvusclient.Client
	collection   string
	vectorField  string
	contentField string
	metaFields   []string
}

var _ rag.VectorIndex = (*MilvusIndex)(nil)

// NewMilvusIndex connects to Milvus and makes sure the collection exists and
// is loaded.
func NewMilvusIndex(ctx context.Context, opts MilvusOptions) (*MilvusIndex, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("milvus address is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("milvus collection is required")
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: opts.Address,
		APIKey:  opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	has, err := client.HasCollection(ctx, milvusclient.NewHasCollectionOption(opts.Collection))
	if err != nil {
		client.Close(ctx)
		return nil, fmt.Errorf("failed to check collection %s: %w", opts.Collection, err)
	}
	if !has {
		client.Close(ctx)
		return nil, fmt.Errorf("collection %s does not exist", opts.Collection)
	}

	task, err := client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(opts.Collection))
	if err != nil {
		client.Close(ctx)
		return nil, fmt.Errorf("failed to load collection %s: %w", opts.Collection, err)
	}
	if err := task.Await(ctx); err != nil {
		client.Close(ctx)
		return nil, fmt.Errorf("failed to load collection %s: %w", opts.Collection, err)
	}

	idx := &MilvusIndex{
		client:       client,
		collection:   opts.Collection,
		vectorField:  opts.VectorField,
		contentField: opts.ContentField,
		metaFields:   opts.MetaFields,
	}
	if idx.vectorField == "" {
		idx.vectorField = "embedding"
	}
	if idx.contentField == "" {
		idx.contentField = "content"
	}
	if len(idx.metaFields) == 0 {
		idx.metaFields = []string{rag.MetaProjectID, rag.MetaFileID, rag.MetaChunkIndex}
	}
	return idx, nil
}

// Query searches the vector field with an optional boolean filter expression
func (m *MilvusIndex) Query(ctx context.Context, embedding []float32, n int, filter map[string]string) ([]rag.SearchResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive")
	}

	outputFields := append([]string{m.contentField}, m.metaFields...)
	opt := milvusclient.NewSearchOption(m.collection, n, []entity.Vector{entity.FloatVector(embedding)}).
		WithANNSField(m.vectorField).
		WithOutputFields(outputFields...)
	if expr := milvusFilterExpr(filter); expr != "" {
		opt = opt.WithFilter(expr)
	}

	resultSets, err := m.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	results := make([]rag.SearchResult, 0, n)
	if len(resultSets) == 0 {
		return results, nil
	}

	rs := resultSets[0]
	contentCol := rs.GetColumn(m.contentField)
	if contentCol == nil {
		return nil, fmt.Errorf("milvus result is missing field %s", m.contentField)
	}

	for i := 0; i < rs.ResultCount; i++ {
		content, err := contentCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", m.contentField, err)
		}

		doc := rag.Document{Content: content, Metadata: map[string]string{}}
		if rs.IDs != nil {
			if id, err := rs.IDs.Get(i); err == nil {
				doc.ID = fmt.Sprint(id)
			}
		}
		for _, field := range m.metaFields {
			col := rs.GetColumn(field)
			if col == nil {
				continue
			}
			if v, err := col.GetAsString(i); err == nil {
				doc.Metadata[field] = v
			}
		}

		score := 0.0
		if i < len(rs.Scores) {
			score = float64(rs.Scores[i])
		}
		results = append(results, rag.SearchResult{Document: doc, Score: score})
	}

	return results, nil
}

// Count returns the number of entities in the collection
func (m *MilvusIndex) Count(ctx context.Context) (int, error) {
	rs, err := m.client.Query(ctx, milvusclient.NewQueryOption(m.collection).WithOutputFields("count(*)"))
	if err != nil {
		return 0, fmt.Errorf("milvus count failed: %w", err)
	}

	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("milvus count failed: %w", err)
	}
	return int(n), nil
}

// Close releases the client connection
func (m *MilvusIndex) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}

// milvusFilterExpr renders an equality filter as a Milvus boolean
// expression, e.g. project_id == "7".
func milvusFilterExpr(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}

	parts := make([]string, 0, len(filter))
	for _, k := range sortedKeys(filter) {
		parts = append(parts, fmt.Sprintf("%s == %s", k, milvusQuote(filter[k])))
	}
	return strings.Join(parts, " && ")
}

func milvusQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
