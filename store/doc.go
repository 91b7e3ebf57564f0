// Package store keeps caller-side session state: a per-session question
// counter and the last answer shown for each project scope.
//
// The answer engine itself is stateless. Callers such as the HTTP server
// record each result with Record and reset a session with Clear, the
// equivalent of starting a new search.
//
// Backends live in sub-packages and share the SessionStore interface:
//
//   - memory: process-local maps, the default
//   - sqlite: a single file via github.com/mattn/go-sqlite3
//   - postgres: a pgx connection pool
//   - redis: JSON values per scope plus a set per session, with optional TTL
//
// # Example
//
//	sessions := memory.NewMemorySessionStore()
//	a, _ := eng.Answer(ctx, question, projectID, rag.QueryOptions{})
//	if _, err := store.Record(ctx, sessions, sessionID, projectID, question, a); err != nil {
//		return err
//	}
package store
