// Package server exposes the answer engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/observance/ragcore/config"
	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/store"
)

// Answerer is the engine surface the handlers use.
type Answerer interface {
	Defaults() rag.QueryOptions
	Answer(ctx context.Context, question, scope string, opts rag.QueryOptions) (*engine.Answer, error)
	AnswerStream(ctx context.Context, question, scope string, opts rag.QueryOptions, observer rag.StreamObserver) (*engine.Answer, error)
	SearchDocs(ctx context.Context, query string, k int, scope string) ([]rag.Document, error)
}

// Counter reports the number of indexed documents. It backs /readyz.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Server holds the handler dependencies.
type Server struct {
	engine   Answerer
	index    Counter
	sessions store.SessionStore
	config   config.ServerConfig
	logger   log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSessions enables session recording and the /api/v1/sessions routes.
func WithSessions(sessions store.SessionStore) Option {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithConfig sets the listener and middleware settings.
func WithConfig(cfg config.ServerConfig) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server. index may be nil, in which case /readyz only checks
// that the process is up.
func New(answerer Answerer, index Counter, opts ...Option) (*Server, error) {
	if answerer == nil {
		return nil, &rag.ConfigurationError{Field: "engine", Reason: "is required"}
	}

	s := &Server{
		engine: answerer,
		index:  index,
		config: config.ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  5 * time.Minute,
			AllowedOrigins:  []string{"*"},
		},
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.Routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
