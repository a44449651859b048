// Package chromem implements memory.Store on top of chromem-go, a pure-Go
// embedded vector database: one chromem collection per user, used purely
// for similarity search, with an authoritative in-process index backing
// Get/List/Delete since chromem-go has no native delete-by-id.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/memnetlabs/memnet/memory"
)

// Store wraps chromem-go with per-user collections for namespace isolation.
type Store struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	items       map[string]memory.MemoryItem
	collection  string
	vectorSize  int
}

// New creates a chromem-backed store. collection names the logical
// collection for Describe; chromem itself partitions storage per user.
func New(collection string) *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		items:       make(map[string]memory.MemoryItem),
		collection:  collection,
	}
}

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

	log.Printf("[STORE:chromem] recreating collection %s: %d -> %d", s.collection, s.vectorSize, vectorSize)
	s.db = chromem.NewDB()
	s.collections = make(map[string]*chromem.Collection)
	s.items = make(map[string]memory.MemoryItem)
	s.vectorSize = vectorSize
	return nil
}

func (s *Store) Describe(ctx context.Context) (memory.CollectionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return memory.CollectionDescriptor{
		Name:       s.collection,
		VectorSize: s.vectorSize,
		Distance:   memory.DistanceCosine,
	}, nil
}

// getOrCreateCollection returns the chromem collection for a user. Each
// user gets their own collection, so partition isolation is enforced by
// chromem itself rather than by a filter applied after a shared search.
func (s *Store) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	name := "user_" + userID
	if userID == "" {
		name = "global"
	}

	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *Store) Insert(ctx context.Context, items []memory.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if len(item.Embedding) != s.vectorSize {
			return memory.ValidationError("embedding length does not match declared vector size")
		}

		col, err := s.getOrCreateCollection(item.UserID)
		if err != nil {
			return memory.BackendUnavailableError("chromem", err)
		}

		doc := chromem.Document{
			ID:        item.ID,
			Content:   item.Data,
			Embedding: item.Embedding,
			Metadata:  flattenMetadata(item),
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return memory.BackendUnavailableError("chromem", err)
		}

		s.items[item.ID] = item
	}
	return nil
}

func (s *Store) Update(ctx context.Context, items []memory.MemoryItem) error {
	return s.Insert(ctx, items)
}

// Search queries the chromem collection of userID. An empty userID queries
// only the "global" collection, which holds items stored without a user id;
// it does not search across the per-user collections.
func (s *Store) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memory.MemorySearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	col, err := s.getOrCreateCollection(userID)
	if err != nil {
		return nil, memory.BackendUnavailableError("chromem", err)
	}

	// Ask for more than limit: chromem may still hold documents for ids
	// that our authoritative items index has since deleted, so we overfetch
	// and filter those out below.
	want := limit * 3
	if want < 10 {
		want = 10
	}

	var results []chromem.Result
	for currentLimit := want; currentLimit >= 1; currentLimit-- {
		results, err = col.QueryEmbedding(ctx, queryVec, currentLimit, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, memory.BackendUnavailableError("chromem", err)
	}

	out := make([]memory.MemorySearchResult, 0, len(results))
	for _, r := range results {
		item, live := s.items[r.ID]
		if !live {
			continue
		}
		out = append(out, memory.MemorySearchResult{Memory: item, Score: clampScore(float64(r.Similarity))})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

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

func (s *Store) Get(ctx context.Context, id string) (memory.MemoryItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	return item, ok, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return nil
}

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

// flattenMetadata renders the fields chromem-go's string-only metadata can
// carry. Nested metadata values are JSON-stringified so they survive at all;
// the authoritative item (with its original, unflattened Metadata) lives in
// s.items, so this flattening only feeds chromem's own filtering, never a
// round trip a caller observes.
func flattenMetadata(item memory.MemoryItem) map[string]string {
	md := map[string]string{
		"owner_id":   item.UserID,
		"agent_id":   item.AgentID,
		"run_id":     item.RunID,
		"created_at": item.CreatedAt.Format(time.RFC3339),
	}
	for k, v := range item.Metadata {
		if str, ok := v.(string); ok {
			md[k] = str
		} else if b, err := json.Marshal(v); err == nil {
			md[k] = string(b)
		} else {
			md[k] = fmt.Sprintf("%v", v)
		}
	}
	return md
}

// isInsufficientDocsError matches chromem-go's error for nResults exceeding
// the collection size.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "nResults must be") || contains(msg, "number of documents")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
