// Package superagent is the execution core of an agent automation platform:
// it turns natural-language goals into plans and executes them against LLM
// providers and sandboxed tools, with durable memory, rollback, and a stable
// headless wire protocol.
//
// # Quick Start
//
// Assemble a Runtime from adapters and run a goal:
//
//	adapter := openaicompat.NewProvider(apiKey, "gpt-4o", "")
//	embedder := openaicompat.NewEmbedding(apiKey, "text-embedding-3-small", "", 1536)
//
//	rt, err := superagent.NewRuntime(
//		superagent.RuntimeModel("gpt-4o"),
//		superagent.RuntimeProvider(superagent.ProviderConfig{
//			Name:     "openai",
//			Models:   []string{"gpt-4o"},
//			Priority: 100,
//			Enabled:  true,
//		}, adapter),
//		superagent.RuntimeVectorStore(sqlite.New("memory.db"), embedder),
//		superagent.RuntimeTools(file.New(root, policy), shell.New(root, policy)),
//	)
//	if err != nil {
//		return err
//	}
//	if err := rt.Start(ctx); err != nil {
//		return err
//	}
//	defer rt.Stop()
//
//	result := rt.ExecuteGoal(ctx, "summarize the README", sessionID)
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: LLM backend (generate, stream, token counting, model info)
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [VectorStore]: persistence with similarity search
//   - [Tool]: pluggable capability with a JSON Schema parameter contract
//   - [Agent]: bus-attached specialist (planner, executor, memory, monitor)
//   - [CodeRunner]: sandboxed code execution backend
//   - [EventSink]: consumer of the headless NDJSON event stream
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs), provider/gemini.
// Storage: store/sqlite, store/postgres, store/chromem.
// Tools: tools/file, tools/shell, tools/web, tools/sandbox.
// Sandboxes: sandbox (subprocess and Docker container runners).
//
// See cmd/superagent for the headless binary that emits the NDJSON protocol.
package superagent
