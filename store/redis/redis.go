package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/observance/ragcore/store"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore implements store.SessionStore using Redis. Each scope
// entry is a hash; a set per session indexes its scopes.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.SessionStore = (*RedisSessionStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "ragcore:"
	TTL      time.Duration // Expiration for sessions, default 0 (no expiration)
}

// NewRedisSessionStore creates a new Redis session store
func NewRedisSessionStore(opts RedisOptions) *RedisSessionStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ragcore:"
	}

	return &RedisSessionStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

func (s *RedisSessionStore) entryKey(id, scope string) string {
	return fmt.Sprintf("%ssession:%s:scope:%s", s.prefix, id, scope)
}

func (s *RedisSessionStore) scopesKey(id string) string {
	return fmt.Sprintf("%ssession:%s:scopes", s.prefix, id)
}

// Ping checks the connection
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

const (
	fieldID           = "id"
	fieldScope        = "scope"
	fieldQueryCount   = "query_count"
	fieldLastQuestion = "last_question"
	fieldLastAnswer   = "last_answer"
	fieldLastOutcome  = "last_outcome"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

// expire refreshes the TTL of an entry and of its session's scope index.
func (s *RedisSessionStore) expire(ctx context.Context, pipe redis.Pipeliner, id, scope string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.entryKey(id, scope), s.ttl)
	pipe.Expire(ctx, s.scopesKey(id), s.ttl)
}

// Save replaces an entry and indexes its scope
func (s *RedisSessionStore) Save(ctx context.Context, sess *store.Session) error {
	key := s.entryKey(sess.ID, sess.Scope)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldID, sess.ID,
			fieldScope, sess.Scope,
			fieldQueryCount, sess.QueryCount,
			fieldLastQuestion, sess.LastQuestion,
			fieldLastAnswer, sess.LastAnswer,
			fieldLastOutcome, sess.LastOutcome,
			fieldCreatedAt, formatTime(sess.CreatedAt),
			fieldUpdatedAt, formatTime(sess.UpdatedAt),
		)
		pipe.SAdd(ctx, s.scopesKey(sess.ID), sess.Scope)
		s.expire(ctx, pipe, sess.ID, sess.Scope)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

// Increment runs HINCRBY on query_count inside MULTI/EXEC and reads the
// entry back in the same transaction
func (s *RedisSessionStore) Increment(ctx context.Context, sess *store.Session) (*store.Session, error) {
	key := s.entryKey(sess.ID, sess.Scope)
	var entry *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, formatTime(sess.CreatedAt))
		pipe.HSet(ctx, key,
			fieldID, sess.ID,
			fieldScope, sess.Scope,
			fieldLastQuestion, sess.LastQuestion,
			fieldLastAnswer, sess.LastAnswer,
			fieldLastOutcome, sess.LastOutcome,
			fieldUpdatedAt, formatTime(sess.UpdatedAt),
		)
		pipe.HIncrBy(ctx, key, fieldQueryCount, 1)
		pipe.SAdd(ctx, s.scopesKey(sess.ID), sess.Scope)
		s.expire(ctx, pipe, sess.ID, sess.Scope)
		entry = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to increment session in redis: %w", err)
	}
	return decodeSession(entry.Val())
}

// Load retrieves one scope entry
func (s *RedisSessionStore) Load(ctx context.Context, id, scope string) (*store.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(id, scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrSessionNotFound
	}
	return decodeSession(fields)
}

// List returns every live scope entry of a session ordered by scope
func (s *RedisSessionStore) List(ctx context.Context, id string) ([]*store.Session, error) {
	scopes, err := s.client.SMembers(ctx, s.scopesKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for %s: %w", id, err)
	}
	if len(scopes) == 0 {
		return []*store.Session{}, nil
	}
	sort.Strings(scopes)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(scopes))
	for i, scope := range scopes {
		cmds[i] = pipe.HGetAll(ctx, s.entryKey(id, scope))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}

	sessions := make([]*store.Session, 0, len(cmds))
	for _, cmd := range cmds {
		// Expired entries come back empty.
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sess, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Delete removes one scope entry
func (s *RedisSessionStore) Delete(ctx context.Context, id, scope string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.entryKey(id, scope))
	pipe.SRem(ctx, s.scopesKey(id), scope)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Clear removes every entry of a session
func (s *RedisSessionStore) Clear(ctx context.Context, id string) error {
	scopesKey := s.scopesKey(id)
	scopes, err := s.client.SMembers(ctx, scopesKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get sessions for clearing: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, scope := range scopes {
		pipe.Del(ctx, s.entryKey(id, scope))
	}
	pipe.Del(ctx, scopesKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeSession(fields map[string]string) (*store.Session, error) {
	count, err := strconv.Atoi(fields[fieldQueryCount])
	if err != nil {
		return nil, fmt.Errorf("invalid query_count %q: %w", fields[fieldQueryCount], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &store.Session{
		ID:           fields[fieldID],
		Scope:        fields[fieldScope],
		QueryCount:   count,
		LastQuestion: fields[fieldLastQuestion],
		LastAnswer:   fields[fieldLastAnswer],
		LastOutcome:  fields[fieldLastOutcome],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}
