// Package app wires configuration into a ready-to-serve answer engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/observance/ragcore/config"
	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/rag/generator"
	"github.com/observance/ragcore/rag/retriever"
	vstore "github.com/observance/ragcore/rag/store"
	"github.com/observance/ragcore/store"
	"github.com/observance/ragcore/store/memory"
	"github.com/observance/ragcore/store/postgres"
	"github.com/observance/ragcore/store/redis"
	"github.com/observance/ragcore/store/sqlite"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Dependencies holds every long-lived component built from the config.
type Dependencies struct {
	Config *config.Config
	Logger log.Logger

	Embedder  rag.Embedder
	Index     rag.VectorIndex
	Retriever *retriever.VectorRetriever
	Generator rag.Generator
	Engine    *engine.Engine
	Sessions  store.SessionStore

	closers []func(context.Context) error
}

// NewDependencies builds the embedder, the index, the generator, the engine
// and the session store. An unusable configuration is reported as a
// *rag.ConfigurationError. On failure everything built so far is released.
func NewDependencies(ctx context.Context, cfg *config.Config, logger log.Logger) (deps *Dependencies, err error) {
	if cfg == nil {
		return nil, &rag.ConfigurationError{Field: "config", Reason: "is required"}
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	d := &Dependencies{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close(context.Background())
		}
	}()

	if err := d.initEmbedder(cfg.Embedding, cfg.LLM); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if err := d.initIndex(ctx, cfg.VectorIndex); err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if err := d.initGenerator(cfg.LLM); err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	if err := d.initEngine(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	if err := d.initSessions(ctx, cfg.Session); err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	logger.Info("dependencies initialized: embedder=%s index=%s llm=%s/%s sessions=%s",
		cfg.Embedding.Provider, cfg.VectorIndex.Backend, cfg.LLM.Provider, cfg.LLM.Model, cfg.Session.Backend)
	return d, nil
}

func (d *Dependencies) initEmbedder(cfg config.EmbeddingConfig, llm config.LLMConfig) error {
	var opts []rag.LangChainEmbedderOption
	if cfg.QueryPrefix != "" {
		opts = append(opts, rag.WithQueryPrefix(cfg.QueryPrefix))
	}
	if cfg.Dimension > 0 {
		opts = append(opts, rag.WithDimension(cfg.Dimension))
	}

	switch cfg.Provider {
	case "mock":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 128
		}
		d.Embedder = vstore.NewMockEmbedder(dim)
		return nil

	case "ollama":
		ollamaOpts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			ollamaOpts = append(ollamaOpts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err := ollama.New(ollamaOpts...)
		if err != nil {
			return fmt.Errorf("failed to create ollama client: %w", err)
		}
		e, err := embeddings.NewEmbedder(client)
		if err != nil {
			return err
		}
		d.Embedder = rag.NewLangChainEmbedder(e, opts...)
		return nil

	case "openai":
		client, err := generator.NewOpenAIModel(generator.OpenAIModelOptions{
			BaseURL:        cfg.BaseURL,
			Token:          llm.APIKey,
			EmbeddingModel: cfg.Model,
		})
		if err != nil {
			return err
		}
		e, err := embeddings.NewEmbedder(client)
		if err != nil {
			return err
		}
		d.Embedder = rag.NewLangChainEmbedder(e, opts...)
		return nil
	}

	return &rag.ConfigurationError{Field: "EMBEDDING_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
}

func (d *Dependencies) initIndex(ctx context.Context, cfg config.VectorIndexConfig) error {
	switch cfg.Backend {
	case "memory":
		idx := vstore.NewInMemoryVectorStore(d.Embedder)
		d.Index = idx
		if cfg.MemorySeedPath == "" {
			d.Logger.Warn("using the in-memory vector index without a seed file: it starts empty")
			return nil
		}

		f, err := os.Open(cfg.MemorySeedPath)
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()

		n, err := idx.LoadJSONL(ctx, f)
		if err != nil {
			return fmt.Errorf("failed to load seed file %s: %w", cfg.MemorySeedPath, err)
		}
		d.Logger.Info("loaded %d seed documents into the in-memory index", n)
		return nil

	case "chroma":
		idx, err := vstore.NewChromaIndex(vstore.ChromaOptions{
			URL:        cfg.ChromaURL,
			Tenant:     cfg.ChromaTenant,
			Database:   cfg.ChromaDatabase,
			Collection: cfg.Collection,
			Token:      cfg.ChromaToken,
		})
		if err != nil {
			return &rag.ConfigurationError{Field: "CHROMA_URL", Reason: "invalid chroma settings", Err: err}
		}
		d.closers = append(d.closers, func(context.Context) error {
			return idx.Close()
		})
		if err := idx.Resolve(ctx); err != nil {
			return err
		}
		d.Index = idx
		return nil

	case "pgvector":
		idx, err := vstore.NewPgVectorIndex(ctx, vstore.PgVectorOptions{
			ConnString: cfg.PgVectorURL,
			TableName:  cfg.PgVectorTable,
		})
		if err != nil {
			return err
		}
		d.Index = idx
		d.closers = append(d.closers, func(context.Context) error {
			idx.Close()
			return nil
		})
		return nil

	case "milvus":
		idx, err := vstore.NewMilvusIndex(ctx, vstore.MilvusOptions{
			Address:     cfg.MilvusAddress,
			APIKey:      cfg.MilvusAPIKey,
			Collection:  cfg.Collection,
			VectorField: cfg.MilvusVectorField,
		})
		if err != nil {
			return err
		}
		d.Index = idx
		d.closers = append(d.closers, idx.Close)
		return nil
	}

	return &rag.ConfigurationError{Field: "VECTOR_BACKEND", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
}

func (d *Dependencies) initGenerator(cfg config.LLMConfig) error {
	opts := []generator.Option{generator.WithLogger(d.Logger)}

	switch cfg.Provider {
	case "ollama":
		model, err := generator.NewOllamaModel(generator.OllamaOptions{
			ServerURL:     cfg.BaseURL,
			Model:         cfg.Model,
			ContextWindow: cfg.ContextWindow,
		})
		if err != nil {
			return err
		}
		d.Generator = generator.NewLLMGenerator(model, opts...)
		return nil

	case "openai":
		g, err := generator.NewOpenAIGenerator(generator.NewOpenAIClient(cfg.APIKey, cfg.BaseURL), cfg.Model, opts...)
		if err != nil {
			return err
		}
		d.Generator = g
		return nil

	case "langchain-openai":
		model, err := generator.NewOpenAIModel(generator.OpenAIModelOptions{
			BaseURL: cfg.BaseURL,
			Token:   cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return err
		}
		d.Generator = generator.NewLLMGenerator(model, opts...)
		return nil
	}

	return &rag.ConfigurationError{Field: "LLM_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
}

func (d *Dependencies) initEngine(cfg *config.Config) error {
	mode, err := retriever.ParseSearchMode(cfg.RAG.SearchMode)
	if err != nil {
		return &rag.ConfigurationError{Field: "RAG_SEARCH_MODE", Reason: "unknown mode", Err: err}
	}

	d.Retriever = retriever.NewVectorRetriever(d.Index, d.Embedder,
		retriever.WithConfig(retriever.Config{
			Mode:   mode,
			FetchK: cfg.RAG.MMRFetchK,
			Lambda: cfg.RAG.MMRLambda,
		}),
		retriever.WithLogger(d.Logger),
	)

	eng, err := engine.New(d.Retriever, d.Generator,
		engine.WithConfig(engine.Config{
			Defaults:          cfg.QueryDefaults(),
			RetrievalTimeout:  cfg.RAG.RetrievalTimeout,
			GenerationTimeout: cfg.RAG.GenerationTimeout,
		}),
		engine.WithLogger(d.Logger),
	)
	if err != nil {
		return err
	}
	d.Engine = eng
	return nil
}

func (d *Dependencies) initSessions(ctx context.Context, cfg config.SessionConfig) error {
	switch cfg.Backend {
	case "memory":
		d.Sessions = memory.NewMemorySessionStore()
		return nil

	case "sqlite":
		s, err := sqlite.NewSqliteSessionStore(sqlite.SqliteOptions{Path: cfg.SQLitePath})
		if err != nil {
			return err
		}
		d.Sessions = s
		d.closers = append(d.closers, func(context.Context) error { return s.Close() })
		return nil

	case "postgres":
		s, err := postgres.NewPostgresSessionStore(ctx, postgres.PostgresOptions{ConnString: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		d.Sessions = s
		d.closers = append(d.closers, func(context.Context) error {
			s.Close()
			return nil
		})
		return nil

	case "redis":
		s := redis.NewRedisSessionStore(redis.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
		d.closers = append(d.closers, func(context.Context) error { return s.Close() })
		if err := s.Ping(ctx); err != nil {
			return err
		}
		d.Sessions = s
		return nil
	}

	return &rag.ConfigurationError{Field: "SESSION_BACKEND", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
}

// Close releases every resource in reverse creation order.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewLogger returns the runtime logger selected by the observability
// config: golog for text output, zap for JSON.
func NewLogger(cfg config.ObservabilityConfig) (log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, &rag.ConfigurationError{Field: "LOG_LEVEL", Reason: "unknown level", Err: err}
	}

	if cfg.LogFormat == "json" {
		l, err := log.NewJSONLogger(level)
		if err != nil {
			return nil, fmt.Errorf("failed to create zap logger: %w", err)
		}
		return l, nil
	}
	return log.NewGologLoggerWithLevel("[ragcore] ", level), nil
}
