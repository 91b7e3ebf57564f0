package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/retriever"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Embedding     EmbeddingConfig
	LLM           LLMConfig
	VectorIndex   VectorIndexConfig
	RAG           RAGConfig
	Session       SessionConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout bounds a whole request, streaming included.
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// EmbeddingConfig selects the query embedder. It must match the model the
// index was built with.
type EmbeddingConfig struct {
	Provider    string `validate:"oneof=ollama openai mock"`
	Model       string
	BaseURL     string
	QueryPrefix string
	Dimension   int `validate:"gte=0"`
}

// LLMConfig selects the answer generator.
type LLMConfig struct {
	Provider      string `validate:"oneof=ollama openai langchain-openai"`
	Model         string `validate:"required"`
	BaseURL       string
	APIKey        string
	ContextWindow int `validate:"gt=0"`
}

// VectorIndexConfig points at the external vector index.
type VectorIndexConfig struct {
	Backend    string `validate:"oneof=chroma pgvector milvus memory"`
	Collection string

	ChromaURL      string
	ChromaTenant   string
	ChromaDatabase string
	ChromaToken    string

	PgVectorURL   string
	PgVectorTable string

	MilvusAddress     string
	MilvusAPIKey      string
	MilvusVectorField string

	// MemorySeedPath is a JSON Lines file loaded into the memory backend.
	MemorySeedPath string
}

// RAGConfig holds the query defaults and phase deadlines.
type RAGConfig struct {
	TopK              int     `validate:"gte=1"`
	MaxContextChars   int     `validate:"gt=0"`
	NumPredict        int     `validate:"gt=0"`
	Temperature       float64 `validate:"gte=0,lte=2"`
	SearchMode        string  `validate:"oneof=similarity mmr"`
	MMRFetchK         int     `validate:"gte=0"`
	MMRLambda         float64 `validate:"gte=0,lte=1"`
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
}

// SessionConfig selects where caller-side session state is kept.
type SessionConfig struct {
	Backend       string `validate:"oneof=memory sqlite postgres redis"`
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string `validate:"oneof=text json"`
}

var validate = validator.New()

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 5*time.Minute),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Embedding: EmbeddingConfig{
			Provider:    strings.ToLower(getEnv("EMBEDDING_PROVIDER", "ollama")),
			Model:       getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			BaseURL:     getEnv("EMBEDDING_BASE_URL", getEnv("OLLAMA_HOST", "http://localhost:11434")),
			QueryPrefix: getEnv("EMBEDDING_QUERY_PREFIX", ""),
			Dimension:   getEnvAsInt("EMBEDDING_DIMENSION", 0),
		},
		LLM: LLMConfig{
			Provider:      strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
			Model:         getEnv("LLM_MODEL", "llama3.2:3b"),
			BaseURL:       getEnv("LLM_BASE_URL", getEnv("OLLAMA_HOST", "http://localhost:11434")),
			APIKey:        getEnv("OPENAI_API_KEY", ""),
			ContextWindow: getEnvAsInt("LLM_CONTEXT_WINDOW", rag.DefaultContextWindow),
		},
		VectorIndex: VectorIndexConfig{
			Backend:           strings.ToLower(getEnv("VECTOR_BACKEND", "chroma")),
			Collection:        getEnv("VECTOR_COLLECTION", "gouvernance"),
			ChromaURL:         getEnv("CHROMA_URL", "http://localhost:8000"),
			ChromaTenant:      getEnv("CHROMA_TENANT", "default_tenant"),
			ChromaDatabase:    getEnv("CHROMA_DATABASE", "default_database"),
			ChromaToken:       getEnv("CHROMA_TOKEN", ""),
			PgVectorURL:       getEnv("PGVECTOR_URL", ""),
			PgVectorTable:     getEnv("PGVECTOR_TABLE", "chunks"),
			MilvusAddress:     getEnv("MILVUS_ADDRESS", ""),
			MilvusAPIKey:      getEnv("MILVUS_API_KEY", ""),
			MilvusVectorField: getEnv("MILVUS_VECTOR_FIELD", "embedding"),
			MemorySeedPath:    getEnv("MEMORY_SEED_PATH", ""),
		},
		RAG: RAGConfig{
			TopK:              getEnvAsInt("RAG_TOP_K", rag.DefaultTopK),
			MaxContextChars:   getEnvAsInt("RAG_MAX_CONTEXT_CHARS", rag.DefaultMaxContextChars),
			NumPredict:        getEnvAsInt("RAG_NUM_PREDICT", rag.DefaultNumPredict),
			Temperature:       getEnvAsFloat("RAG_TEMPERATURE", rag.DefaultTemperature),
			SearchMode:        strings.ToLower(getEnv("RAG_SEARCH_MODE", string(retriever.SearchSimilarity))),
			MMRFetchK:         getEnvAsInt("RAG_MMR_FETCH_K", 0),
			MMRLambda:         getEnvAsFloat("RAG_MMR_LAMBDA", 0.5),
			RetrievalTimeout:  getEnvAsDuration("RAG_RETRIEVAL_TIMEOUT", 30*time.Second),
			GenerationTimeout: getEnvAsDuration("RAG_GENERATION_TIMEOUT", 3*time.Minute),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
			SQLitePath:    getEnv("SQLITE_PATH", "ragcore_sessions.db"),
			DatabaseURL:   getEnv("DATABASE_URL", ""),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	// The Ollama host default only applies to Ollama.
	if cfg.Embedding.Provider != "ollama" {
		cfg.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", "")
	}
	if cfg.LLM.Provider != "ollama" {
		cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks field constraints and cross-field requirements. Every
// failure is a *rag.ConfigurationError.
func (c *Config) Validate() error {
	for _, section := range []any{c.Server, c.Embedding, c.LLM, c.VectorIndex, c.RAG, c.Session, c.Observability} {
		if err := validate.Struct(section); err != nil {
			return configurationError(err)
		}
	}

	if c.Embedding.Provider == "openai" && c.LLM.APIKey == "" {
		return &rag.ConfigurationError{Field: "OPENAI_API_KEY", Reason: "is required for the openai embedding provider"}
	}
	if c.Embedding.Provider != "mock" && c.Embedding.Model == "" {
		return &rag.ConfigurationError{Field: "EMBEDDING_MODEL", Reason: "is required"}
	}
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return &rag.ConfigurationError{Field: "OPENAI_API_KEY", Reason: "is required for the " + c.LLM.Provider + " provider"}
	}

	if strings.TrimSpace(c.VectorIndex.Collection) == "" {
		return &rag.ConfigurationError{Field: "VECTOR_COLLECTION", Reason: "is required"}
	}
	switch c.VectorIndex.Backend {
	case "chroma":
		if c.VectorIndex.ChromaURL == "" {
			return &rag.ConfigurationError{Field: "CHROMA_URL", Reason: "is required for the chroma backend"}
		}
	case "pgvector":
		if c.VectorIndex.PgVectorURL == "" {
			return &rag.ConfigurationError{Field: "PGVECTOR_URL", Reason: "is required for the pgvector backend"}
		}
	case "milvus":
		if c.VectorIndex.MilvusAddress == "" {
			return &rag.ConfigurationError{Field: "MILVUS_ADDRESS", Reason: "is required for the milvus backend"}
		}
	case "memory":
		if c.VectorIndex.MemorySeedPath == "" {
			return &rag.ConfigurationError{Field: "MEMORY_SEED_PATH", Reason: "is required for the memory backend"}
		}
	}

	switch c.Session.Backend {
	case "sqlite":
		if c.Session.SQLitePath == "" {
			return &rag.ConfigurationError{Field: "SQLITE_PATH", Reason: "is required for the sqlite session backend"}
		}
	case "postgres":
		if c.Session.DatabaseURL == "" {
			return &rag.ConfigurationError{Field: "DATABASE_URL", Reason: "is required for the postgres session backend"}
		}
	case "redis":
		if c.Session.RedisAddr == "" {
			return &rag.ConfigurationError{Field: "REDIS_ADDR", Reason: "is required for the redis session backend"}
		}
	}

	if _, err := log.ParseLevel(c.Observability.LogLevel); err != nil {
		return &rag.ConfigurationError{Field: "LOG_LEVEL", Reason: "unknown level", Err: err}
	}

	if err := c.QueryDefaults().Validate(); err != nil {
		return &rag.ConfigurationError{Field: "RAG", Reason: "invalid query defaults", Err: err}
	}
	return nil
}

// QueryDefaults returns the configured per-query defaults.
func (c *Config) QueryDefaults() rag.QueryOptions {
	return rag.QueryOptions{
		K:               c.RAG.TopK,
		MaxContextChars: c.RAG.MaxContextChars,
		NumPredict:      c.RAG.NumPredict,
		Temperature:     c.RAG.Temperature,
	}
}

// LogLevel returns the parsed log level, info when unset.
func (c *Config) LogLevel() log.LogLevel {
	level, _ := log.ParseLevel(c.Observability.LogLevel)
	return level
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func configurationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &rag.ConfigurationError{
			Field:  fe.StructNamespace(),
			Reason: fmt.Sprintf("failed on '%s' (value %v)", validationTag(fe), fe.Value()),
		}
	}
	return &rag.ConfigurationError{Field: "config", Reason: "invalid", Err: err}
}

func validationTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// getPort returns the server port from PORT or SERVER_PORT (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", 8080)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
