// Package memory implements MemNet's long-term memory layer for
// conversational AI applications.
//
// Unstructured message transcripts are distilled by an LLM into atomic
// factual statements, each embedded into a dense vector and persisted in a
// pluggable vector store. Later, a query is embedded and matched against
// the store to retrieve the statements most semantically relevant to it.
//
// Architecture:
//   - Embedder: text to vector, used for both writes and queries.
//   - LLMProvider: one-shot prompt operations (extract, merge, rerank).
//   - Store: the vector-store abstraction; several backends implement it.
//   - Service: orchestrates Add/Search/Update/Delete over the above.
//
// Backends:
//   - memory/store/inmemory: authoritative reference store, used to bound
//     correctness and seed tests.
//   - memory/store/chromem: embedded document-payload ANN engine.
//   - memory/store/pgvector: PostgreSQL + pgvector, scalar fields.
//   - memory/store/redisvec: Redis with a vector-similarity module.
//
// The core owns correctness-critical semantics — duplicate detection,
// conflict merging, partition filtering, dimensional schema reconciliation
// — and depends only on the Store/Embedder/LLMProvider interfaces, never on
// a concrete backend.
package memory
