// Package openai provides an Embedder backed by OpenAI's embeddings API.
package openai

import (
	"context"
	"os"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/memnetlabs/memnet/memory"
)

// Embedder implements memory.Embedder using OpenAI's embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  string

	mu   sync.Mutex
	size int // 0 until successfully probed
}

// New constructs an Embedder. If apiKey is empty, it falls back to
// OPENAI_API_KEY then OPENAI_KEY in the environment. model defaults to
// "text-embedding-3-small" when empty.
func New(apiKey, model string) *Embedder {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	cfg := openai.DefaultConfig(apiKey)
	return &Embedder{client: openai.NewClientWithConfig(cfg), model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, memory.BackendUnavailableError("embedder:openai", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, memory.ProtocolError("embedder:openai", 0, "empty embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, memory.BackendUnavailableError("embedder:openai", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, memory.ProtocolError("embedder:openai", 0, "response item count does not match request")
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// VectorSize probes the embedder's native dimension by embedding a sentinel
// string on first call, then caches the result. A failed probe is not
// cached, so a transient error can be retried by a later call.
func (e *Embedder) VectorSize(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.size != 0 {
		return e.size, nil
	}

	vec, err := e.Embed(ctx, "test")
	if err != nil {
		return 0, err
	}
	e.size = len(vec)
	return e.size, nil
}
