package store

import (
	"context"
	"strings"
	"testing"

	"github.com/observance/ragcore/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(id, content, project string) rag.Document {
	return rag.Document{ID: id, Content: content, Metadata: map[string]string{
		rag.MetaProjectID:  project,
		rag.MetaFileID:     "f-" + id,
		rag.MetaChunkIndex: "0",
	}}
}

func TestInMemoryVectorStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryVectorStore(NewMockEmbedder(3))

	t.Run("AddBatch and Query", func(t *testing.T) {
		err := s.AddBatch(ctx,
			[]rag.Document{chunk("1", "hello", "7"), chunk("2", "world", "7")},
			[][]float32{{1, 0, 0}, {0, 1, 0}},
		)
		require.NoError(t, err)

		results, err := s.Query(ctx, []float32{1, 0.1, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "1", results[0].Document.ID)
		assert.Greater(t, results[0].Score, 0.9)
	})

	t.Run("Query with filter", func(t *testing.T) {
		require.NoError(t, s.AddWithEmbedding(ctx, chunk("3", "filtered", "8"), []float32{0, 0, 1}))

		results, err := s.Query(ctx, []float32{0, 0, 1}, 10, map[string]string{rag.MetaProjectID: "8"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "3", results[0].Document.ID)

		results, err = s.Query(ctx, []float32{0, 0, 1}, 10, map[string]string{rag.MetaProjectID: "99"})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		results, err := s.Query(ctx, []float32{1, 0, 0}, 1, nil)
		require.NoError(t, err)
		results[0].Document.Metadata[rag.MetaProjectID] = "mutated"

		again, err := s.Query(ctx, []float32{1, 0, 0}, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, "7", again[0].Document.ProjectID())
	})

	t.Run("Add embeds content", func(t *testing.T) {
		require.NoError(t, s.Add(ctx, []rag.Document{chunk("4", "embedded", "7")}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := s.Query(ctx, []float32{1, 0, 0}, 0, nil)
		assert.Error(t, err)

		err = s.AddBatch(ctx, []rag.Document{chunk("5", "x", "7")}, nil)
		assert.Error(t, err)

		err = s.AddBatch(ctx, []rag.Document{{ID: "6"}}, [][]float32{{1, 0, 0}})
		assert.Error(t, err)

		err = NewInMemoryVectorStore(nil).Add(ctx, []rag.Document{chunk("7", "x", "7")})
		assert.Error(t, err)
	})

}

func TestInMemoryVectorStore_LoadJSONL(t *testing.T) {
	ctx := context.Background()

	t.Run("loads and embeds documents", func(t *testing.T) {
		s := NewInMemoryVectorStore(NewMockEmbedder(8))
		seed := `{"id":"c1","content":"Le budget est de 2M€.","metadata":{"project_id":7,"file_id":"12","chunk_index":0}}
{"id":"c2","content":"Le comité se réunit chaque mois.","metadata":{"project_id":"8"}}
`
		n, err := s.LoadJSONL(ctx, strings.NewReader(seed))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		results, err := s.Query(ctx, make([]float32, 8), 10, map[string]string{rag.MetaProjectID: "7"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "c1", results[0].Document.ID)
		assert.Equal(t, "0", results[0].Document.ChunkIndex())
	})

	t.Run("empty input", func(t *testing.T) {
		n, err := NewInMemoryVectorStore(NewMockEmbedder(8)).LoadJSONL(ctx, strings.NewReader(""))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("malformed line", func(t *testing.T) {
		s := NewInMemoryVectorStore(NewMockEmbedder(8))
		_, err := s.LoadJSONL(ctx, strings.NewReader(`{"id":"c1","content":"ok"}
{"id":`))
		assert.ErrorContains(t, err, "invalid seed document 2")

		count, _ := s.Count(ctx)
		assert.Zero(t, count, "nothing is stored when the file is invalid")
	})

	t.Run("document without content", func(t *testing.T) {
		s := NewInMemoryVectorStore(NewMockEmbedder(8))
		_, err := s.LoadJSONL(ctx, strings.NewReader(`{"id":"c1","content":""}`))
		assert.Error(t, err)
	})
}

func TestMatchesFilter(t *testing.T) {
	doc := rag.Document{Metadata: map[string]string{"key": "val"}}
	assert.True(t, matchesFilter(doc, map[string]string{"key": "val"}))
	assert.True(t, matchesFilter(doc, nil))
	assert.False(t, matchesFilter(doc, map[string]string{"key": "wrong"}))
	assert.False(t, matchesFilter(doc, map[string]string{"missing": "any"}))
}

func TestCosineSimilarity32(t *testing.T) {
	v1 := []float32{1, 0}
	v2 := []float32{1, 0}
	assert.InDelta(t, 1.0, cosineSimilarity32(v1, v2), 1e-6)

	v3 := []float32{0, 1}
	assert.InDelta(t, 0.0, cosineSimilarity32(v1, v3), 1e-6)

	assert.Equal(t, 0.0, cosineSimilarity32([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity32([]float32{0}, []float32{0}))
}
