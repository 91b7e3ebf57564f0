package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
)

// Searcher returns evidence documents for a query, most relevant first.
// retriever.VectorRetriever implements it.
type Searcher interface {
	Search(ctx context.Context, query string, k int, scope string) ([]rag.Document, error)
}

// Config holds the engine defaults and phase deadlines. A zero timeout
// leaves the phase bounded only by the caller's context.
type Config struct {
	Defaults          rag.QueryOptions
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
}

// DefaultConfig returns the documented query defaults with no deadlines.
func DefaultConfig() Config {
	return Config{Defaults: rag.DefaultQueryOptions()}
}

// Engine composes retrieval, context assembly and generation. It keeps no
// per-call state and is safe for concurrent use when its collaborators are.
type Engine struct {
	searcher  Searcher
	generator rag.Generator
	config    Config
	logger    log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets defaults and deadlines.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine.
func New(searcher Searcher, generator rag.Generator, opts ...Option) (*Engine, error) {
	if searcher == nil {
		return nil, &rag.ConfigurationError{Field: "searcher", Reason: "is required"}
	}
	if generator == nil {
		return nil, &rag.ConfigurationError{Field: "generator", Reason: "is required"}
	}

	e := &Engine{
		searcher:  searcher,
		generator: generator,
		config:    DefaultConfig(),
		logger:    log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.config.Defaults = e.config.Defaults.WithDefaults(rag.DefaultQueryOptions())
	if err := e.config.Defaults.Validate(); err != nil {
		return nil, &rag.ConfigurationError{Field: "defaults", Reason: "invalid query defaults", Err: err}
	}
	return e, nil
}

// Defaults returns the query options used for zero fields.
func (e *Engine) Defaults() rag.QueryOptions {
	return e.config.Defaults
}

// Answer runs a question through retrieval and generation. Phase failures
// are reported in the returned Answer. The error is non-nil only for invalid
// options, in which case nothing is run.
func (e *Engine) Answer(ctx context.Context, question, scope string, opts rag.QueryOptions) (*Answer, error) {
	return e.run(ctx, question, scope, opts, nil)
}

// AnswerStream is Answer with every generated fragment passed to observer
// as it arrives.
func (e *Engine) AnswerStream(ctx context.Context, question, scope string, opts rag.QueryOptions, observer rag.StreamObserver) (*Answer, error) {
	if observer == nil {
		observer = func(context.Context, string) error { return nil }
	}
	return e.run(ctx, question, scope, opts, observer)
}

// AnswerQuery returns the answer rendered as text. Retrieval and generation
// failures come back as marked text, never as an error.
func (e *Engine) AnswerQuery(ctx context.Context, question, scope string, opts rag.QueryOptions) (string, error) {
	a, err := e.Answer(ctx, question, scope, opts)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}

// AnswerQueryStream is the streaming form of AnswerQuery.
func (e *Engine) AnswerQueryStream(ctx context.Context, question, scope string, opts rag.QueryOptions, observer rag.StreamObserver) (string, error) {
	a, err := e.AnswerStream(ctx, question, scope, opts, observer)
	if err != nil {
		return "", err
	}
	return a.String(), nil
}

// SearchDocs exposes retrieval alone. k <= 0 uses the default.
func (e *Engine) SearchDocs(ctx context.Context, query string, k int, scope string) ([]rag.Document, error) {
	if k <= 0 {
		k = e.config.Defaults.K
	}
	return e.retrieve(ctx, query, k, scope)
}

func (e *Engine) run(ctx context.Context, question, scope string, opts rag.QueryOptions, observer rag.StreamObserver) (*Answer, error) {
	opts = opts.WithDefaults(e.config.Defaults)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query options: %w", err)
	}

	a := &Answer{States: []State{StateIdle}}
	start := time.Now()

	a.enter(StateRetrieving)
	docs, err := e.retrieve(ctx, question, opts.K, scope)
	if err != nil {
		a.enter(StateRetrievalFailed)
		a.Outcome = OutcomeRetrievalFailed
		a.Err = err
		e.logger.Warn("retrieval failed: scope=%q err=%v", scope, err)
		return a, nil
	}
	a.enter(StateRetrieved)
	a.Sources = docs
	a.EmptyContext = len(docs) == 0

	contextText := rag.AssembleContext(docs, opts.MaxContextChars)
	e.logger.Debug("assembled context: docs=%d chars=%d", len(docs), len([]rune(contextText)))

	a.enter(StateGenerating)
	text, err := e.generate(ctx, question, contextText, opts.Params(), observer)
	if err != nil {
		a.enter(StateGenerationFailed)
		a.Outcome = OutcomeGenerationFailed
		a.Err = err
		e.logger.Warn("generation failed: scope=%q err=%v", scope, err)
		return a, nil
	}
	a.enter(StateDone)
	a.Outcome = OutcomeAnswered
	a.Text = text

	e.logger.Info("answered: scope=%q sources=%d chars=%d elapsed=%s", scope, len(docs), len(text), time.Since(start).Round(time.Millisecond))
	return a, nil
}

func (e *Engine) retrieve(ctx context.Context, query string, k int, scope string) ([]rag.Document, error) {
	if e.config.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RetrievalTimeout)
		defer cancel()
	}

	docs, err := e.searcher.Search(ctx, query, k, scope)
	if err != nil {
		if !rag.IsRetrievalError(err) {
			err = &rag.RetrievalError{Op: "search", Err: err}
		}
		return nil, err
	}
	if docs == nil {
		docs = []rag.Document{}
	}
	return docs, nil
}

func (e *Engine) generate(ctx context.Context, question, contextText string, params rag.GenerationParams, observer rag.StreamObserver) (string, error) {
	if e.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.GenerationTimeout)
		defer cancel()
	}

	var (
		text string
		err  error
	)
	if observer != nil {
		text, err = e.generator.GenerateStream(ctx, question, contextText, params, observer)
	} else {
		text, err = e.generator.Generate(ctx, question, contextText, params)
	}
	if err != nil {
		if !rag.IsGenerationError(err) {
			err = &rag.GenerationError{Op: "generate", Err: err}
		}
		return "", err
	}
	return text, nil
}
