package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// probeK is the top-K used for the per-candidate duplicate probe in Add.
const probeK = 5

// Service orchestrates the add/search/update pipeline: it couples an
// LLMProvider, an Embedder, and a Store into one coherent memory lifecycle,
// and owns the dedup/merge/rerank policy. It holds no per-request mutable
// state — every field below is set once at construction and read many
// times.
type Service struct {
	store    Store
	embedder Embedder
	llm      LLMProvider
	config   *Config

	// getCache is a read-through cache in front of store.Get, keyed by
	// memory id. Entries are invalidated on Update, Delete and the merge
	// path of Add, and the whole cache is cleared on DeleteAll. A nil cache (if
	// construction fails) degrades to always-miss, never to an error.
	getCache *ristretto.Cache
}

// NewService constructs a Service. A nil config falls back to
// DefaultConfig.
func NewService(store Store, embedder Embedder, llm LLMProvider, config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		log.Printf("[MEMNET] get-cache disabled: %v", err)
		cache = nil
	}

	return &Service{
		store:    store,
		embedder: embedder,
		llm:      llm,
		config:   config,
		getCache: cache,
	}, nil
}

// Initialize must complete before any other Service operation. It detects
// the embedder's native vector size and ensures the backing collection
// exists with that dimension.
func (s *Service) Initialize(ctx context.Context, allowRecreation bool) error {
	size, err := s.embedder.VectorSize(ctx)
	if err != nil {
		return BackendUnavailableError("embedder", err)
	}
	if err := s.store.EnsureCollectionExists(ctx, size, allowRecreation); err != nil {
		return err
	}
	log.Printf("[MEMNET] initialized: vectorSize=%d allowRecreation=%v", size, allowRecreation)
	return nil
}

// Add runs the extract -> embed -> probe -> merge-or-insert pipeline.
func (s *Service) Add(ctx context.Context, req AddMemoryRequest) (AddMemoryResponse, error) {
	if len(req.Messages) == 0 {
		return AddMemoryResponse{}, ValidationError("Add requires at least one message")
	}

	transcript := joinMessages(req.Messages)
	candidates, err := s.llm.ExtractMemories(ctx, transcript)
	if err != nil {
		return AddMemoryResponse{}, BackendUnavailableError("llm", err)
	}
	if len(candidates) == 0 {
		return AddMemoryResponse{}, nil
	}

	now := time.Now().UTC()

	var inserts []MemoryItem
	var updates []MemoryItem
	var results []AddMemoryResult

	// pendingByUser tracks items written during this batch but not yet
	// flushed to the store, so later candidates in the same batch can
	// match against earlier merges. Keyed by userId; each entry also
	// records the id of an update's original record so a later candidate
	// probing the pre-merge id still finds the merged text.
	pendingByUser := make(map[string][]MemoryItem)

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate.Data) == "" {
			continue
		}

		vec, err := s.embedder.Embed(ctx, candidate.Data)
		if err != nil {
			return AddMemoryResponse{}, BackendUnavailableError("embedder", err)
		}

		best, bestScore, err := s.probeBest(ctx, vec, req.UserID, pendingByUser[req.UserID])
		if err != nil {
			return AddMemoryResponse{}, err
		}

		if best != nil && bestScore > s.config.DuplicateThreshold {
			merged, err := s.llm.MergeMemories(ctx, best.Data, candidate.Data)
			if err != nil {
				return AddMemoryResponse{}, BackendUnavailableError("llm", err)
			}

			mergedVec, err := s.embedder.Embed(ctx, merged)
			if err != nil {
				return AddMemoryResponse{}, BackendUnavailableError("embedder", err)
			}

			updated := *best
			updated.Data = merged
			updated.Embedding = mergedVec
			updated.UpdatedAt = now

			updates = append(updates, updated)
			pendingByUser[req.UserID] = append(pendingByUser[req.UserID], updated)
			results = append(results, AddMemoryResult{ID: updated.ID, Memory: updated.Data, Event: EventUpdate})
			continue
		}

		item := MemoryItem{
			ID:        uuid.New().String(),
			Data:      candidate.Data,
			Embedding: vec,
			UserID:    req.UserID,
			AgentID:   req.AgentID,
			RunID:     req.RunID,
			Metadata:  req.Metadata,
			CreatedAt: now,
		}
		inserts = append(inserts, item)
		pendingByUser[req.UserID] = append(pendingByUser[req.UserID], item)
		results = append(results, AddMemoryResult{ID: item.ID, Memory: item.Data, Event: EventAdd})
	}

	if len(inserts) > 0 {
		if err := s.store.Insert(ctx, inserts); err != nil {
			return AddMemoryResponse{}, err
		}
	}
	if len(updates) > 0 {
		if err := s.store.Update(ctx, updates); err != nil {
			return AddMemoryResponse{}, err
		}
		for _, u := range updates {
			s.invalidate(u.ID)
		}
	}

	return AddMemoryResponse{Results: results}, nil
}

// probeBest runs the top-K similarity probe for one candidate embedding,
// restricted to userID, and returns the single best match (store result or
// in-flight pending item from this batch) along with its score. A nil
// return means no candidate cleared even a minimal bar for comparison.
func (s *Service) probeBest(ctx context.Context, vec []float32, userID string, pending []MemoryItem) (*MemoryItem, float64, error) {
	storeResults, err := s.store.Search(ctx, vec, userID, probeK)
	if err != nil {
		return nil, 0, err
	}

	var best *MemoryItem
	bestScore := -1.0

	for i := range storeResults {
		if storeResults[i].Score > bestScore {
			item := storeResults[i].Memory
			best = &item
			bestScore = storeResults[i].Score
		}
	}

	for i := range pending {
		score := cosineSimilarity(vec, pending[i].Embedding)
		if score > bestScore {
			item := pending[i]
			best = &item
			bestScore = score
		}
	}

	return best, bestScore, nil
}

// Search runs the embed -> ANN search -> optional rerank pipeline.
func (s *Service) Search(ctx context.Context, req SearchMemoryRequest) ([]MemorySearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ValidationError("Search requires a non-empty query")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, BackendUnavailableError("embedder", err)
	}

	results, err := s.store.Search(ctx, vec, req.UserID, limit)
	if err != nil {
		return nil, err
	}

	if !s.config.EnableReranking {
		return results, nil
	}

	// Rerank itself fails open on a JSON parse failure (returns the
	// pre-rerank order with a nil error); an error here is a genuine
	// transport failure and propagates.
	reranked, err := s.llm.Rerank(ctx, req.Query, results)
	if err != nil {
		return nil, BackendUnavailableError("llm", err)
	}
	return reranked, nil
}

// GetAll returns up to limit items in userID's partition.
func (s *Service) GetAll(ctx context.Context, userID string, limit int) ([]MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.List(ctx, userID, limit)
}

// Get returns the item with id, or (MemoryItem{}, false, nil) when absent.
func (s *Service) Get(ctx context.Context, id string) (MemoryItem, bool, error) {
	if s.getCache != nil {
		if cached, ok := s.getCache.Get(id); ok {
			return cached.(MemoryItem), true, nil
		}
	}

	item, found, err := s.store.Get(ctx, id)
	if err != nil {
		return MemoryItem{}, false, err
	}
	if !found {
		return MemoryItem{}, false, nil
	}

	if s.getCache != nil {
		s.getCache.Set(id, item, 1)
	}
	return item, true, nil
}

// Update re-embeds content, sets updatedAt, and writes it through to the
// store. It returns false (not an error) when id is unknown.
func (s *Service) Update(ctx context.Context, id string, content string) (bool, error) {
	existing, found, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return false, BackendUnavailableError("embedder", err)
	}

	existing.Data = content
	existing.Embedding = vec
	existing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, []MemoryItem{existing}); err != nil {
		return false, err
	}
	s.invalidate(id)
	return true, nil
}

// Delete removes the item with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

// DeleteAll removes every item in userID's partition.
func (s *Service) DeleteAll(ctx context.Context, userID string) error {
	if err := s.store.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	if s.getCache != nil {
		s.getCache.Clear()
	}
	return nil
}

func (s *Service) invalidate(id string) {
	if s.getCache != nil {
		s.getCache.Del(id)
	}
}

// joinMessages renders a transcript tagged by role, one line per message,
// for handing to the extractor.
func joinMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// cosineSimilarity computes dot(a,b) / (|a|*|b|), returning 0 when either
// magnitude is 0 or the lengths differ. Mirrors the in-memory reference
// store's own formula so pending-batch probing and the backing store agree
// on what "similar" means.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
