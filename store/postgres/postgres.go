package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/observance/ragcore/store"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresSessionStore implements store.SessionStore using PostgreSQL
type PostgresSessionStore struct {
	pool      DBPool
	tableName string
}

var _ store.SessionStore = (*PostgresSessionStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "sessions"
}

// NewPostgresSessionStore creates a pool and makes sure the table exists
func NewPostgresSessionStore(ctx context.Context, opts PostgresOptions) (*PostgresSessionStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	s, err := NewPostgresSessionStoreWithPool(pool, opts.TableName)
	if err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSessionStoreWithPool creates a store on an existing pool
// Useful for testing with mocks
func NewPostgresSessionStoreWithPool(pool DBPool, tableName string) (*PostgresSessionStore, error) {
	if tableName == "" {
		tableName = "sessions"
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	return &PostgresSessionStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresSessionStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			scope TEXT NOT NULL,
			query_count INTEGER NOT NULL,
			last_question TEXT NOT NULL,
			last_answer TEXT NOT NULL,
			last_outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (id, scope)
		)
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresSessionStore) Close() {
	s.pool.Close()
}

// Save upserts a session entry
func (s *PostgresSessionStore) Save(ctx context.Context, sess *store.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, scope) DO UPDATE SET
			query_count = EXCLUDED.query_count,
			last_question = EXCLUDED.last_question,
			last_answer = EXCLUDED.last_answer,
			last_outcome = EXCLUDED.last_outcome,
			updated_at = EXCLUDED.updated_at
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.Scope,
		sess.QueryCount,
		sess.LastQuestion,
		sess.LastAnswer,
		sess.LastOutcome,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Increment upserts the entry with query_count = query_count + 1 and returns
// the stored row
func (s *PostgresSessionStore) Increment(ctx context.Context, sess *store.Session) (*store.Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s AS t (id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7)
		ON CONFLICT (id, scope) DO UPDATE SET
			query_count = t.query_count + 1,
			last_question = EXCLUDED.last_question,
			last_answer = EXCLUDED.last_answer,
			last_outcome = EXCLUDED.last_outcome,
			updated_at = EXCLUDED.updated_at
		RETURNING id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at
	`, s.tableName)

	stored, err := scanSession(s.pool.QueryRow(ctx, query,
		sess.ID,
		sess.Scope,
		sess.LastQuestion,
		sess.LastAnswer,
		sess.LastOutcome,
		sess.CreatedAt,
		sess.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to increment session: %w", err)
	}
	return stored, nil
}

// Load retrieves one scope entry
func (s *PostgresSessionStore) Load(ctx context.Context, id, scope string) (*store.Session, error) {
	query := fmt.Sprintf(`SELECT id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at FROM %s WHERE id = $1 AND scope = $2`, s.tableName)

	sess, err := scanSession(s.pool.QueryRow(ctx, query, id, scope))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// List returns every scope entry of a session
func (s *PostgresSessionStore) List(ctx context.Context, id string) ([]*store.Session, error) {
	query := fmt.Sprintf(`SELECT id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at FROM %s WHERE id = $1 ORDER BY scope ASC`, s.tableName)

	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*store.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes one scope entry
func (s *PostgresSessionStore) Delete(ctx context.Context, id, scope string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND scope = $2", s.tableName)
	if _, err := s.pool.Exec(ctx, query, id, scope); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Clear removes every entry of a session
func (s *PostgresSessionStore) Clear(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*store.Session, error) {
	var sess store.Session
	err := row.Scan(
		&sess.ID,
		&sess.Scope,
		&sess.QueryCount,
		&sess.LastQuestion,
		&sess.LastAnswer,
		&sess.LastOutcome,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
