package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
)

// ErrSessionNotFound is returned by Load when no entry exists for a session
// and scope.
var ErrSessionNotFound = errors.New("session not found")

// Session is the caller-side state kept for one session and project scope:
// how many questions were asked and the last answer shown.
type Session struct {
	ID           string    `json:"id"`
	Scope        string    `json:"scope"`
	QueryCount   int       `json:"query_count"`
	LastQuestion string    `json:"last_question"`
	LastAnswer   string    `json:"last_answer"`
	LastOutcome  string    `json:"last_outcome"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionStore persists sessions keyed by (id, scope).
type SessionStore interface {
	// Save inserts or replaces the entry for s.ID and s.Scope
	Save(ctx context.Context, s *Session) error

	// Increment adds one to the counter of (s.ID, s.Scope) and overwrites
	// the last question, answer, outcome and UpdatedAt as one atomic step.
	// A missing entry is created with a count of one and s.CreatedAt.
	// QueryCount of s is ignored. It returns the stored entry.
	Increment(ctx context.Context, s *Session) (*Session, error)

	// Load returns ErrSessionNotFound when nothing is stored
	Load(ctx context.Context, id, scope string) (*Session, error)

	// List returns every scope entry of a session
	List(ctx context.Context, id string) ([]*Session, error)

	// Delete removes one scope entry
	Delete(ctx context.Context, id, scope string) error

	// Clear removes every entry of a session
	Clear(ctx context.Context, id string) error
}

// NewSessionID mints a session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NormalizeScope maps every unscoped spelling to "".
func NormalizeScope(scope string) string {
	if rag.IsUnscoped(scope) {
		return ""
	}
	return scope
}

// Record stores the outcome of one question for (id, scope), creating the
// entry on first use and incrementing its counter. Concurrent calls on the
// same entry never lose an increment.
func Record(ctx context.Context, s SessionStore, id, scope, question string, a *engine.Answer) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	now := time.Now().UTC()

	outcome := engine.OutcomeAnswered.String()
	if a != nil {
		outcome = a.Outcome.String()
	}

	return s.Increment(ctx, &Session{
		ID:           id,
		Scope:        NormalizeScope(scope),
		LastQuestion: question,
		LastAnswer:   a.String(),
		LastOutcome:  outcome,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// TotalQueries sums the counters across scopes.
func TotalQueries(sessions []*Session) int {
	total := 0
	for _, s := range sessions {
		total += s.QueryCount
	}
	return total
}
