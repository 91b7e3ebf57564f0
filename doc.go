// ragcore - Retrieval-Augmented Question Answering in Go
//
// ragcore answers natural-language questions about a corpus of project
// documents that has already been chunked, embedded and stored in a vector
// index. A question is embedded, the nearest passages are retrieved
// (optionally restricted to one project), assembled into a bounded context
// and handed to a language model together with a grounding prompt.
//
// # Quick Start
//
// Run the HTTP API against a local Ollama and Chroma:
//
//	export EMBEDDING_MODEL=nomic-embed-text
//	export LLM_MODEL=llama3.2:3b
//	export CHROMA_URL=http://localhost:8000
//	ragcore serve
//
// Or ask from the terminal:
//
//	ragcore ask -q "Quel est le budget du projet ?" -project 7
//
// From Go:
//
//	deps, err := app.NewDependencies(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer deps.Close(ctx)
//
//	answer, err := deps.Engine.Answer(ctx, "Quel est le budget ?", "7", rag.QueryOptions{})
//	if err != nil {
//		return err // invalid options only
//	}
//	fmt.Println(answer) // failures render with their marker
//
// # Packages
//
//   - rag: core types, context assembly, the prompt and typed errors
//   - rag/retriever: scoped vector retrieval with optional MMR
//   - rag/store: vector index clients (Chroma, pgvector, Milvus, in-memory)
//   - rag/generator: answer generators over langchaingo and go-openai
//   - rag/engine: the retrieve-then-generate state machine
//   - store: caller-side session state (memory, sqlite, postgres, redis)
//   - config: environment configuration with validation
//   - log: leveled logging over golog and zap
//   - render: sanitized HTML rendering of answers
//   - server: the chi HTTP API, with Server-Sent Events streaming
//   - app: wiring from configuration to a running engine
//
// # Failure Semantics
//
// Retrieval and generation failures never escape as Go errors from the
// answer path. They are reported in the answer and rendered as
//
//	[RAG retrieval error] <detail>
//	[LLM generation error] <detail>
//
// A retrieval failure skips generation entirely. An empty retrieval is not
// a failure: the model receives a placeholder context and is instructed to
// say the information is insufficient.
package ragcore // import "github.com/observance/ragcore"
