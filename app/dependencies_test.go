package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/observance/ragcore/config"
	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/generator"
	vstore "github.com/observance/ragcore/rag/store"
	"github.com/observance/ragcore/store/memory"
	"github.com/observance/ragcore/store/redis"
	"github.com/observance/ragcore/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Embedding: config.EmbeddingConfig{
			Provider:  "mock",
			Dimension: 8,
		},
		LLM: config.LLMConfig{
			Provider:      "ollama",
			Model:         "llama3.2:3b",
			BaseURL:       "http://localhost:11434",
			ContextWindow: 4096,
		},
		VectorIndex: config.VectorIndexConfig{
			Backend:    "memory",
			Collection: "gouvernance",
		},
		RAG: config.RAGConfig{
			TopK:              rag.DefaultTopK,
			MaxContextChars:   rag.DefaultMaxContextChars,
			NumPredict:        rag.DefaultNumPredict,
			Temperature:       rag.DefaultTemperature,
			SearchMode:        "similarity",
			MMRLambda:         0.5,
			RetrievalTimeout:  time.Second,
			GenerationTimeout: time.Second,
		},
		Session: config.SessionConfig{Backend: "memory"},
		Observability: config.ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	ctx := context.Background()
	logger := &log.NoOpLogger{}

	t.Run("memory stack", func(t *testing.T) {
		deps, err := NewDependencies(ctx, testConfig(), logger)
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.IsType(t, &vstore.MockEmbedder{}, deps.Embedder)
		assert.IsType(t, &vstore.InMemoryVectorStore{}, deps.Index)
		assert.IsType(t, &generator.LLMGenerator{}, deps.Generator)
		assert.IsType(t, &memory.MemorySessionStore{}, deps.Sessions)
		require.NotNil(t, deps.Engine)
		assert.Equal(t, rag.DefaultTopK, deps.Engine.Defaults().K)

		docs, err := deps.Engine.SearchDocs(ctx, "budget", 0, "7")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("memory index from seed file", func(t *testing.T) {
		seed := filepath.Join(t.TempDir(), "chunks.jsonl")
		lines := `{"id":"a","content":"Budget 2024","metadata":{"project_id":7}}
{"id":"b","content":"Roadmap","metadata":{"project_id":"9"}}
`
		require.NoError(t, os.WriteFile(seed, []byte(lines), 0o600))

		cfg := testConfig()
		cfg.VectorIndex.MemorySeedPath = seed

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		defer deps.Close(ctx)

		n, err := deps.Index.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		docs, err := deps.Engine.SearchDocs(ctx, "budget", 5, "7")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].ID)
	})

	t.Run("missing seed file", func(t *testing.T) {
		cfg := testConfig()
		cfg.VectorIndex.MemorySeedPath = filepath.Join(t.TempDir(), "missing.jsonl")

		_, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewDependencies(ctx, nil, logger)
		var cfgErr *rag.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("openai generator", func(t *testing.T) {
		cfg := testConfig()
		cfg.LLM.Provider = "openai"
		cfg.LLM.Model = "gpt-4o-mini"
		cfg.LLM.APIKey = "sk-test"

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &generator.OpenAIGenerator{}, deps.Generator)
	})

	t.Run("langchain openai generator", func(t *testing.T) {
		cfg := testConfig()
		cfg.LLM.Provider = "langchain-openai"
		cfg.LLM.Model = "gpt-4o-mini"
		cfg.LLM.APIKey = "sk-test"

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &generator.LLMGenerator{}, deps.Generator)
	})

	t.Run("ollama embedder", func(t *testing.T) {
		cfg := testConfig()
		cfg.Embedding = config.EmbeddingConfig{
			Provider:    "ollama",
			Model:       "nomic-embed-text",
			BaseURL:     "http://localhost:11434",
			QueryPrefix: "search_query: ",
			Dimension:   768,
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &rag.LangChainEmbedder{}, deps.Embedder)
		assert.Equal(t, 768, deps.Embedder.GetDimension())
	})

	t.Run("unknown backends", func(t *testing.T) {
		for _, mutate := range []func(*config.Config){
			func(c *config.Config) { c.Embedding.Provider = "cohere" },
			func(c *config.Config) { c.VectorIndex.Backend = "faiss" },
			func(c *config.Config) { c.LLM.Provider = "ernie" },
			func(c *config.Config) { c.Session.Backend = "etcd" },
			func(c *config.Config) { c.RAG.SearchMode = "hybrid" },
		} {
			cfg := testConfig()
			mutate(cfg)

			deps, err := NewDependencies(ctx, cfg, logger)
			assert.Nil(t, deps)
			var cfgErr *rag.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		}
	})

	t.Run("invalid query defaults", func(t *testing.T) {
		cfg := testConfig()
		cfg.RAG.TopK = -1

		_, err := NewDependencies(ctx, cfg, logger)
		var cfgErr *rag.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestNewDependencies_Sessions(t *testing.T) {
	ctx := context.Background()
	logger := &log.NoOpLogger{}

	t.Run("sqlite", func(t *testing.T) {
		cfg := testConfig()
		cfg.Session.Backend = "sqlite"
		cfg.Session.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &sqlite.SqliteSessionStore{}, deps.Sessions)
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		cfg := testConfig()
		cfg.Session.Backend = "redis"
		cfg.Session.RedisAddr = mr.Addr()
		cfg.Session.TTL = time.Hour

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &redis.RedisSessionStore{}, deps.Sessions)
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig()
		cfg.Session.Backend = "redis"
		cfg.Session.RedisAddr = addr

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Nil(t, deps)
		assert.ErrorContains(t, err, "failed to initialize session store")
	})
}

func TestNewDependencies_Chroma(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/collections/gouvernance") {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":       "c-1",
				"name":     "gouvernance",
				"tenant":   "default_tenant",
				"database": "default_database",
			})
			return
		}
		http.Error(w, `{"error":"NotFoundError"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	t.Run("resolves the collection", func(t *testing.T) {
		cfg := testConfig()
		cfg.VectorIndex.Backend = "chroma"
		cfg.VectorIndex.ChromaURL = srv.URL

		deps, err := NewDependencies(ctx, cfg, &log.NoOpLogger{})
		require.NoError(t, err)
		assert.IsType(t, &vstore.ChromaIndex{}, deps.Index)
	})

	t.Run("missing collection", func(t *testing.T) {
		cfg := testConfig()
		cfg.VectorIndex.Backend = "chroma"
		cfg.VectorIndex.ChromaURL = srv.URL
		cfg.VectorIndex.Collection = "absent"

		_, err := NewDependencies(ctx, cfg, &log.NoOpLogger{})
		assert.ErrorContains(t, err, "failed to initialize vector index")
	})
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"})
	require.NoError(t, err)
	assert.IsType(t, &log.GologLogger{}, l)

	l, err = NewLogger(config.ObservabilityConfig{LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	assert.IsType(t, &log.ZapLogger{}, l)

	_, err = NewLogger(config.ObservabilityConfig{LogLevel: "loud"})
	var cfgErr *rag.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
