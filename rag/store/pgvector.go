package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/observance/ragcore/rag"
)

// PgxPool is the subset of pgxpool.Pool used by PgVectorIndex
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PgVectorOptions configuration for a pgvector table
type PgVectorOptions struct {
	ConnString string
	TableName  string // Default "chunks"
}

// PgVectorIndex queries a Postgres table with a pgvector column using the
// cosine distance operator. The table is populated by the indexing job:
//
//	id TEXT, content TEXT, metadata JSONB, embedding vector(D)
type PgVectorIndex struct {
	pool      PgxPool
	tableName string
}

var _ rag.VectorIndex = (*PgVectorIndex)(nil)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// NewPgVectorIndex connects to Postgres
func NewPgVectorIndex(ctx context.Context, opts PgVectorOptions) (*PgVectorIndex, error) {
	tableName, err := pgTableName(opts.TableName)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	return &PgVectorIndex{pool: pool, tableName: tableName}, nil
}

// NewPgVectorIndexWithPool creates an index over an existing pool
func NewPgVectorIndexWithPool(pool PgxPool, tableName string) (*PgVectorIndex, error) {
	name, err := pgTableName(tableName)
	if err != nil {
		return nil, err
	}
	return &PgVectorIndex{pool: pool, tableName: name}, nil
}

func pgTableName(name string) (string, error) {
	if name == "" {
		return "chunks", nil
	}
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

// Query returns the n nearest rows by cosine distance
func (s *PgVectorIndex) Query(ctx context.Context, embedding []float32, n int, filter map[string]string) ([]rag.SearchResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive")
	}

	query, args := s.buildQuery(embedding, n, filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector query failed: %w", err)
	}
	defer rows.Close()

	results := make([]rag.SearchResult, 0, n)
	for rows.Next() {
		var (
			id       string
			content  string
			metadata []byte
			score    float64
		)
		if err := rows.Scan(&id, &content, &metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc := rag.Document{ID: id, Content: content, Metadata: map[string]string{}}
		if len(metadata) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(metadata, &raw); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", id, err)
			}
			for k, v := range raw {
				doc.Metadata[k] = metadataString(v)
			}
		}
		results = append(results, rag.SearchResult{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector query failed: %w", err)
	}

	return results, nil
}

func (s *PgVectorIndex) buildQuery(embedding []float32, n int, filter map[string]string) (string, []any) {
	args := []any{vectorLiteral(embedding)}

	var where []string
	for _, k := range sortedKeys(filter) {
		args = append(args, k, filter[k])
		where = append(where, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
	}
	args = append(args, n)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score FROM %s", s.tableName)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))
	return b.String(), args
}

// Count returns the number of rows
func (s *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector count failed: %w", err)
	}
	return n, nil
}

// Close closes the connection pool
func (s *PgVectorIndex) Close() {
	s.pool.Close()
}

// vectorLiteral formats v in pgvector's text input form.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
