// Package rag holds the core of the question-answering pipeline.
//
// # Core Types
//
//   - Document: a retrieved passage with its project, file and chunk metadata
//   - Embedder: turns query text into a vector
//   - VectorIndex: the read side of an external nearest-neighbour store
//   - Generator: produces an answer from a question and an assembled context
//   - QueryOptions: per-question parameters (k, context budget, output
//     tokens, temperature)
//
// # Context Assembly
//
// AssembleContext joins passages in retrieval order with a blank line
// between them and cuts the result to the character budget. The cut is a
// hard one and may split a passage mid-word:
//
//	ctx := rag.AssembleContext(docs, 6000)
//
// With no passages it returns NoContextPlaceholder.
//
// # Scopes
//
// A scope is a project identifier. The empty string and "None" both mean the
// whole corpus. ScopeFilter turns a scope into an index filter on the
// project_id metadata key.
//
// # Errors
//
// RetrievalError and GenerationError identify the failing phase.
// ConfigurationError reports unusable settings at construction time.
package rag // import "github.com/observance/ragcore/rag"
