// Package storetest holds the behaviour every store.SessionStore backend
// must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreTests exercises s through the SessionStore interface. The
// store must start empty.
func RunSessionStoreTests(t *testing.T, s store.SessionStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("load missing", func(t *testing.T) {
		_, err := s.Load(ctx, "missing", "")
		assert.ErrorIs(t, err, store.ErrSessionNotFound)

		list, err := s.List(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("save load and overwrite", func(t *testing.T) {
		sess := &store.Session{
			ID:           "s-1",
			Scope:        "7",
			QueryCount:   1,
			LastQuestion: "Quel est le budget ?",
			LastAnswer:   "2M€",
			LastOutcome:  engine.OutcomeAnswered.String(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		require.NoError(t, s.Save(ctx, sess))

		loaded, err := s.Load(ctx, "s-1", "7")
		require.NoError(t, err)
		assert.Equal(t, "Quel est le budget ?", loaded.LastQuestion)
		assert.Equal(t, "2M€", loaded.LastAnswer)
		assert.Equal(t, 1, loaded.QueryCount)
		assert.True(t, now.Equal(loaded.CreatedAt))

		sess.QueryCount = 2
		sess.LastAnswer = "3M€"
		require.NoError(t, s.Save(ctx, sess))

		loaded, err = s.Load(ctx, "s-1", "7")
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.QueryCount)
		assert.Equal(t, "3M€", loaded.LastAnswer)
	})

	t.Run("list delete clear", func(t *testing.T) {
		for _, scope := range []string{"", "12", "7"} {
			require.NoError(t, s.Save(ctx, &store.Session{ID: "s-2", Scope: scope, QueryCount: 1, CreatedAt: now, UpdatedAt: now}))
		}
		require.NoError(t, s.Save(ctx, &store.Session{ID: "other", Scope: "7", QueryCount: 1, CreatedAt: now, UpdatedAt: now}))

		list, err := s.List(ctx, "s-2")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"", "12", "7"}, scopes(list))
		assert.Equal(t, 3, store.TotalQueries(list))

		require.NoError(t, s.Delete(ctx, "s-2", "12"))
		_, err = s.Load(ctx, "s-2", "12")
		assert.True(t, errors.Is(err, store.ErrSessionNotFound))

		require.NoError(t, s.Clear(ctx, "s-2"))
		list, err = s.List(ctx, "s-2")
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = s.Load(ctx, "other", "7")
		assert.NoError(t, err)
	})

	t.Run("record", func(t *testing.T) {
		ok := &engine.Answer{Outcome: engine.OutcomeAnswered, Text: "Réponse"}
		sess, err := store.Record(ctx, s, "s-3", "None", "q1", ok)
		require.NoError(t, err)
		assert.Equal(t, 1, sess.QueryCount)
		assert.Equal(t, "", sess.Scope)

		failed := &engine.Answer{Outcome: engine.OutcomeRetrievalFailed, Err: errors.New("down")}
		sess, err = store.Record(ctx, s, "s-3", "", "q2", failed)
		require.NoError(t, err)
		assert.Equal(t, 2, sess.QueryCount)

		loaded, err := s.Load(ctx, "s-3", "")
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.QueryCount)
		assert.Equal(t, "q2", loaded.LastQuestion)
		assert.Equal(t, "[RAG retrieval error] down", loaded.LastAnswer)
		assert.Equal(t, "retrieval_failed", loaded.LastOutcome)
	})

	t.Run("increment keeps created_at", func(t *testing.T) {
		later := now.Add(time.Hour)
		first, err := s.Increment(ctx, &store.Session{ID: "s-4", Scope: "7", QueryCount: 40, LastQuestion: "q1", CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, 1, first.QueryCount)

		second, err := s.Increment(ctx, &store.Session{ID: "s-4", Scope: "7", LastQuestion: "q2", CreatedAt: later, UpdatedAt: later})
		require.NoError(t, err)
		assert.Equal(t, 2, second.QueryCount)
		assert.Equal(t, "q2", second.LastQuestion)
		assert.True(t, now.Equal(second.CreatedAt))
		assert.True(t, later.Equal(second.UpdatedAt))
	})

	t.Run("concurrent record", func(t *testing.T) {
		const workers = 25
		answer := &engine.Answer{Outcome: engine.OutcomeAnswered, Text: "ok"}

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Record(ctx, s, "s-5", "7", fmt.Sprintf("q%d", i), answer)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		loaded, err := s.Load(ctx, "s-5", "7")
		require.NoError(t, err)
		assert.Equal(t, workers, loaded.QueryCount)
	})
}

func scopes(list []*store.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Scope
	}
	return out
}
