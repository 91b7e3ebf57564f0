package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/observance/ragcore/store"
)

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*store.Session
}

var _ store.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]map[string]*store.Session),
	}
}

func (m *MemorySessionStore) scopes(id string) map[string]*store.Session {
	scopes, ok := m.sessions[id]
	if !ok {
		scopes = make(map[string]*store.Session)
		m.sessions[id] = scopes
	}
	return scopes
}

// Save stores a copy of s
func (m *MemorySessionStore) Save(ctx context.Context, s *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.scopes(s.ID)[s.Scope] = &cp
	return nil
}

// Increment updates the entry under the write lock
func (m *MemorySessionStore) Increment(ctx context.Context, s *store.Session) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scopes := m.scopes(s.ID)
	cur, ok := scopes[s.Scope]
	if !ok {
		cur = &store.Session{ID: s.ID, Scope: s.Scope, CreatedAt: s.CreatedAt}
		scopes[s.Scope] = cur
	}
	cur.QueryCount++
	cur.LastQuestion = s.LastQuestion
	cur.LastAnswer = s.LastAnswer
	cur.LastOutcome = s.LastOutcome
	cur.UpdatedAt = s.UpdatedAt

	out := *cur
	return &out, nil
}

// Load returns a copy of the stored entry
func (m *MemorySessionStore) Load(ctx context.Context, id, scope string) (*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id][scope]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// List returns the entries of a session ordered by scope
func (m *MemorySessionStore) List(ctx context.Context, id string) ([]*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*store.Session, 0, len(m.sessions[id]))
	for _, s := range m.sessions[id] {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

// Delete removes one scope entry
func (m *MemorySessionStore) Delete(ctx context.Context, id, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if scopes, ok := m.sessions[id]; ok {
		delete(scopes, scope)
		if len(scopes) == 0 {
			delete(m.sessions, id)
		}
	}
	return nil
}

// Clear removes a whole session
func (m *MemorySessionStore) Clear(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}
