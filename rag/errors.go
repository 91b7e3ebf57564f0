package rag

import (
	"errors"
	"fmt"
)

// Markers prefixed to phase failures when an answer is rendered as text.
const (
	RetrievalErrorMarker  = "[RAG retrieval error]"
	GenerationErrorMarker = "[LLM generation error]"
)

// ErrEmptyQuery is returned by callers that reject blank questions before
// they reach the engine.
var ErrEmptyQuery = errors.New("query is empty")

// RetrievalError wraps a failure of the embedder or the vector index.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the language model call.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ConfigurationError reports an unusable setting. It is raised at startup and
// never on the per-query path.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err came from the retrieval phase.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// IsGenerationError reports whether err came from the generation phase.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
