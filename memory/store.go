package memory

import "context"

// Embedder converts text to dense vector embeddings. Implementations:
// memory/embedder/mock (testing), memory/embedder/onnx (local inference),
// memory/embedder/openai (hosted API).
type Embedder interface {
	// Embed converts a single text to an embedding vector. Output vectors
	// are L2-normalized when the downstream metric is COSINE.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// VectorSize reports the embedder's native output dimension. The first
	// call may lazily probe the dimension by embedding a sentinel string
	// and cache the result; subsequent calls return the cached value.
	VectorSize(ctx context.Context) (int, error)
}

// LLMProvider offers the three one-shot prompt operations the memory
// lifecycle depends on. Implementations: llm.AnthropicProvider and
// llm.OpenAIProvider in memory/llm.
type LLMProvider interface {
	// ExtractMemories distills a conversation transcript into standalone
	// factual statements. On a parse failure of the model's response, it
	// returns an empty slice and a nil error — never raises on malformed
	// model output.
	ExtractMemories(ctx context.Context, conversationText string) ([]ExtractedMemory, error)

	// MergeMemories combines an existing statement with a new one,
	// preserving all factual information and preferring the new statement
	// on conflict. It returns only the merged text.
	MergeMemories(ctx context.Context, existing, new string) (string, error)

	// Rerank reorders search results by relevance to query. The returned
	// slice's order is authoritative; omitted positions are dropped. On a
	// parse failure, Rerank returns the input slice unchanged (fail-open).
	Rerank(ctx context.Context, query string, results []MemorySearchResult) ([]MemorySearchResult, error)
}

// Store is the vector-store abstraction every backend implements. The
// service depends only on this interface, never on a concrete backend.
type Store interface {
	// EnsureCollectionExists creates the collection if missing. If it
	// already exists with a different declared dimension, it is recreated
	// when allowRecreation is true, or EnsureCollectionExists fails with a
	// SchemaMismatchError otherwise. Idempotent when dimensions match.
	EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error

	// Describe returns the collection's declared schema, for diagnostics
	// and for callers that want to check dimension compatibility without
	// performing a write.
	Describe(ctx context.Context) (CollectionDescriptor, error)

	// Insert upserts items by id. Backends that support it use wait=true
	// semantics, so a subsequent Get with the same id returns the item.
	Insert(ctx context.Context, items []MemoryItem) error

	// Update is semantically equivalent to delete-then-insert for the
	// listed ids. Backends that natively upsert may short-circuit.
	Update(ctx context.Context, items []MemoryItem) error

	// Search performs an ANN search using the store's declared metric.
	// When userID is non-empty, results are restricted to that partition.
	// Returned scores are similarities in [0, 1], higher is more similar.
	Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]MemorySearchResult, error)

	// List returns up to limit items for the partition, ordered by
	// createdAt descending where the backend can provide that ordering.
	List(ctx context.Context, userID string, limit int) ([]MemoryItem, error)

	// Get returns the item with id, or (MemoryItem{}, false, nil) when
	// absent. It never returns a NotFound error; absence is represented in
	// the boolean.
	Get(ctx context.Context, id string) (MemoryItem, bool, error)

	// Delete removes the item with id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// DeleteByUser removes every item in userID's partition.
	DeleteByUser(ctx context.Context, userID string) error
}
