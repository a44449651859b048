// Package inmemory is the authoritative reference implementation of
// memory.Store: a single mutex-guarded map with linear-scan cosine
// similarity. Every other backend's behavior is judged against this one.
package inmemory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/memnetlabs/memnet/memory"
)

// Store is an in-process, non-persistent memory.Store.
type Store struct {
	mu         sync.RWMutex
	collection string
	vectorSize int
	items      map[string]memory.MemoryItem
}

// New creates an empty in-memory store. collection is cosmetic here (there
// is only one namespace per Store value) but kept so Describe reports
// something meaningful.
func New(collection string) *Store {
	return &Store{
		collection: collection,
		items:      make(map[string]memory.MemoryItem),
	}
}

// EnsureCollectionExists records vectorSize as the declared dimension. If a
// different size was already declared, it fails with a SchemaMismatchError
// unless allowRecreation is true, in which case all items are dropped.
func (s *Store) EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vectorSize == 0 {
		s.vectorSize = vectorSize
		return nil
	}
	if s.vectorSize == vectorSize {
		return nil
	}
	if !allowRecreation {
		return memory.SchemaMismatchError(s.collection, s.vectorSize, vectorSize)
	}

	s.vectorSize = vectorSize
	s.items = make(map[string]memory.MemoryItem)
	return nil
}

// Describe returns the collection's declared schema.
func (s *Store) Describe(ctx context.Context) (memory.CollectionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return memory.CollectionDescriptor{
		Name:       s.collection,
		VectorSize: s.vectorSize,
		Distance:   memory.DistanceCosine,
	}, nil
}

// Insert upserts items by id.
func (s *Store) Insert(ctx context.Context, items []memory.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if len(item.Embedding) != s.vectorSize {
			return memory.ValidationError("embedding length does not match declared vector size")
		}
		s.items[item.ID] = item
	}
	return nil
}

// Update overwrites items by id; ids not already present are inserted.
func (s *Store) Update(ctx context.Context, items []memory.MemoryItem) error {
	return s.Insert(ctx, items)
}

// Search performs a linear-scan cosine similarity search, optionally
// restricted to userID, and returns the top `limit` results sorted by
// descending score.
func (s *Store) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memory.MemorySearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	results := make([]memory.MemorySearchResult, 0, len(s.items))
	for _, item := range s.items {
		if userID != "" && item.UserID != userID {
			continue
		}
		score := cosineSimilarity(queryVec, item.Embedding)
		results = append(results, memory.MemorySearchResult{Memory: item, Score: clampScore(score)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Deterministic tie-break so repeated queries against identical
		// scores return a stable order.
		return results[i].Memory.ID < results[j].Memory.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// List returns up to limit items for userID, newest first.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]memory.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	items := make([]memory.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		if userID != "" && item.UserID != userID {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Get returns the item with id, or (MemoryItem{}, false, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (memory.MemoryItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	return item, ok, nil
}

// Delete removes the item with id. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return nil
}

// DeleteByUser removes every item belonging to userID.
func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, item := range s.items {
		if item.UserID == userID {
			delete(s.items, id)
		}
	}
	return nil
}

// cosineSimilarity computes dot(a,b) / (|a|*|b|), returning 0 for length
// mismatches or zero vectors.
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

// clampScore restricts a similarity value to [0, 1].
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
