package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/store"
	"github.com/observance/ragcore/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	storetest.RunSessionStoreTests(t, NewMemorySessionStore())
}

func TestMemorySessionStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySessionStore()

	sess := &store.Session{ID: "s", Scope: "7", QueryCount: 1}
	require.NoError(t, m.Save(ctx, sess))
	sess.QueryCount = 99

	loaded, err := m.Load(ctx, "s", "7")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.QueryCount)

	loaded.QueryCount = 50
	again, err := m.Load(ctx, "s", "7")
	require.NoError(t, err)
	assert.Equal(t, 1, again.QueryCount)
}

func TestMemorySessionStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySessionStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Save(ctx, &store.Session{ID: "s", Scope: string(rune('a' + i)), QueryCount: i})
			_, _ = m.List(ctx, "s")
		}(i)
	}
	wg.Wait()

	list, err := m.List(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

// slowStore delays reads the way a networked backend would.
type slowStore struct {
	*MemorySessionStore
}

func (s slowStore) Load(ctx context.Context, id, scope string) (*store.Session, error) {
	time.Sleep(time.Millisecond)
	return s.MemorySessionStore.Load(ctx, id, scope)
}

func TestRecord_ConcurrentSlowBackend(t *testing.T) {
	ctx := context.Background()
	s := slowStore{NewMemorySessionStore()}
	answer := &engine.Answer{Outcome: engine.OutcomeAnswered, Text: "ok"}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Record(ctx, s, "s", "7", "q", answer)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := s.Load(ctx, "s", "7")
	require.NoError(t, err)
	assert.Equal(t, 200, loaded.QueryCount)
}
