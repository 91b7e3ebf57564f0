package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"
	"github.com/observance/ragcore/store"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SqliteSessionStore implements store.SessionStore using SQLite
type SqliteSessionStore struct {
	db        *sql.DB
	tableName string
}

var _ store.SessionStore = (*SqliteSessionStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "sessions"
}

// NewSqliteSessionStore opens the database file and creates the table
func NewSqliteSessionStore(opts SqliteOptions) (*SqliteSessionStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s, err := NewSqliteSessionStoreWithDB(db, opts.TableName)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewSqliteSessionStoreWithDB wraps an open database without touching the
// schema
func NewSqliteSessionStoreWithDB(db *sql.DB, tableName string) (*SqliteSessionStore, error) {
	if tableName == "" {
		tableName = "sessions"
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	return &SqliteSessionStore{db: db, tableName: tableName}, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteSessionStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			scope TEXT NOT NULL,
			query_count INTEGER NOT NULL,
			last_question TEXT NOT NULL,
			last_answer TEXT NOT NULL,
			last_outcome TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (id, scope)
		);
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteSessionStore) Close() error {
	return s.db.Close()
}

// Save upserts a session entry
func (s *SqliteSessionStore) Save(ctx context.Context, sess *store.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, scope) DO UPDATE SET
			query_count = excluded.query_count,
			last_question = excluded.last_question,
			last_answer = excluded.last_answer,
			last_outcome = excluded.last_outcome,
			updated_at = excluded.updated_at
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
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

// Increment upserts the entry with query_count = query_count + 1 and reads
// it back in the same transaction
func (s *SqliteSessionStore) Increment(ctx context.Context, sess *store.Session) (*store.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(id, scope) DO UPDATE SET
			query_count = query_count + 1,
			last_question = excluded.last_question,
			last_answer = excluded.last_answer,
			last_outcome = excluded.last_outcome,
			updated_at = excluded.updated_at
	`, s.tableName)

	_, err = tx.ExecContext(ctx, upsert,
		sess.ID,
		sess.Scope,
		sess.LastQuestion,
		sess.LastAnswer,
		sess.LastOutcome,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to increment session: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at
		FROM %s
		WHERE id = ? AND scope = ?
	`, s.tableName)

	stored, err := scanSession(tx.QueryRowContext(ctx, query, sess.ID, sess.Scope))
	if err != nil {
		return nil, fmt.Errorf("failed to read incremented session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return stored, nil
}

// Load retrieves one scope entry
func (s *SqliteSessionStore) Load(ctx context.Context, id, scope string) (*store.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at
		FROM %s
		WHERE id = ? AND scope = ?
	`, s.tableName)

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, scope))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// List returns every scope entry of a session
func (s *SqliteSessionStore) List(ctx context.Context, id string) ([]*store.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, scope, query_count, last_question, last_answer, last_outcome, created_at, updated_at
		FROM %s
		WHERE id = ?
		ORDER BY scope ASC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, id)
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
func (s *SqliteSessionStore) Delete(ctx context.Context, id, scope string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND scope = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, id, scope); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Clear removes every entry of a session
func (s *SqliteSessionStore) Clear(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.Session, error) {
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
