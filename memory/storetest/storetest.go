// Package storetest is a shared property-test harness run against every
// memory.Store backend. Each backend's own _test.go file calls Run with a
// constructor for a fresh, empty store; the same invariants are checked
// regardless of which backend is under test.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/memnetlabs/memnet/memory"
)

const vectorSize = 8

// NewStoreFunc builds a fresh, empty store with no collection declared yet.
// Run calls it once per property; each property then declares the
// collection itself (with vectorSize dimensions, except DimensionGuard,
// which declares its own sizes).
type NewStoreFunc func(t *testing.T) memory.Store

// Run exercises every backend-agnostic invariant against the store returned
// by newStore. Call it from TestXxx(t *testing.T) in each backend package.
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore) })
	t.Run("PartitionIsolation", func(t *testing.T) { testPartitionIsolation(t, newStore) })
	t.Run("LimitBound", func(t *testing.T) { testLimitBound(t, newStore) })
	t.Run("UpdateMonotonicity", func(t *testing.T) { testUpdateMonotonicity(t, newStore) })
	t.Run("DeleteErases", func(t *testing.T) { testDeleteErases(t, newStore) })
	t.Run("ScoreBounds", func(t *testing.T) { testScoreBounds(t, newStore) })
	t.Run("DimensionGuard", func(t *testing.T) { testDimensionGuard(t, newStore) })
}

func setup(t *testing.T, newStore NewStoreFunc) (context.Context, memory.Store) {
	ctx := context.Background()
	store := newStore(t)
	if err := store.EnsureCollectionExists(ctx, vectorSize, true); err != nil {
		t.Fatalf("EnsureCollectionExists: %v", err)
	}
	return ctx, store
}

func vec(seed float32) []float32 {
	v := make([]float32, vectorSize)
	for i := range v {
		v[i] = seed + float32(i)*0.01
	}
	return v
}

func testRoundTrip(t *testing.T, newStore NewStoreFunc) {
	ctx, store := setup(t, newStore)

	m := memory.MemoryItem{
		ID:        "item-1",
		Data:      "User loves hiking",
		Embedding: vec(1),
		UserID:    "u1",
		AgentID:   "a1",
		RunID:     "r1",
		Metadata:  map[string]interface{}{"source": "chat"},
		CreatedAt: time.Now().UTC(),
	}

	if err := store.Insert(ctx, []memory.MemoryItem{m}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, found, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected item to be found after Insert")
	}
	if got.Data != m.Data || got.UserID != m.UserID || got.AgentID != m.AgentID || got.RunID != m.RunID {
		t.Fatalf("round-tripped item diverged: got %+v, want %+v", got, m)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Fatalf("createdAt diverged: got %v, want %v", got.CreatedAt, m.CreatedAt)
	}
}

func testPartitionIsolation(t *testing.T, newStore NewStoreFunc) {
	ctx, store := setup(t, newStore)

	items := []memory.MemoryItem{
		{ID: "u1-item", Data: "belongs to u1", Embedding: vec(1), UserID: "u1", CreatedAt: time.Now().UTC()},
		{ID: "u2-item", Data: "belongs to u2", Embedding: vec(1), UserID: "u2", CreatedAt: time.Now().UTC()},
	}
	if err := store.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	searchResults, err := store.Search(ctx, vec(1), "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range searchResults {
		if r.Memory.UserID == "u2" {
			t.Fatalf("Search(u1) leaked a u2 item: %+v", r.Memory)
		}
	}

	listResults, err := store.List(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range listResults {
		if item.UserID == "u2" {
			t.Fatalf("List(u1) leaked a u2 item: %+v", item)
		}
	}
}

func testLimitBound(t *testing.T, newStore NewStoreFunc) {
	ctx, store := setup(t, newStore)

	var items []memory.MemoryItem
	for i := 0; i < 5; i++ {
		items = append(items, memory.MemoryItem{
			ID:        "item-" + string(rune('a'+i)),
			Data:      "memory",
			Embedding: vec(float32(i)),
			UserID:    "u1",
			CreatedAt: time.Now().UTC(),
		})
	}
	if err := store.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	searchResults, err := store.Search(ctx, vec(0), "u1", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(searchResults) > 2 {
		t.Fatalf("Search returned %d results, want <= 2", len(searchResults))
	}

	listResults, err := store.List(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listResults) > 2 {
		t.Fatalf("List returned %d results, want <= 2", len(listResults))
	}
}

func testUpdateMonotonicity(t *testing.T, newStore NewStoreFunc) {
	ctx, store := setup(t, newStore)

	created := time.Now().UTC().Add(-time.Hour)
	m := memory.MemoryItem{
		ID:        "item-1",
		Data:      "original text",
		Embedding: vec(1),
		UserID:    "u1",
		CreatedAt: created,
	}
	if err := store.Insert(ctx, []memory.MemoryItem{m}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	updated := m
	updated.Data = "revised text"
	updated.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, []memory.MemoryItem{updated}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, found, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected item to still exist after Update")
	}
	if got.Data != "revised text" {
		t.Fatalf("Data not updated: got %q", got.Data)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("expected updatedAt (%v) after createdAt (%v)", got.UpdatedAt, got.CreatedAt)
	}
}

func testDeleteErases(t *testing.T, newStore NewStoreFunc) {
	ctx, store := setup(t, newStore)

	m := memory.MemoryItem{ID: "item-1", Data: "to be deleted", Embedding: vec(1), UserID: "u1", CreatedAt: time.Now().UTC()}
	if err := store.Insert(ctx, []memory.MemoryItem{m}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, found, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected item to be gone after Delete")
	}

	results, err := store.Search(ctx, vec(1), "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Memory.ID == m.ID {
			t.Fatal("Search returned a deleted item")
		}
	}
}

func testScoreBounds(t *testing.T, newStore NewStoreFunc) {
	ctx, store := setup(t, newStore)

	var items []memory.MemoryItem
	for i := 0; i < 4; i++ {
		items = append(items, memory.MemoryItem{
			ID:        "item-" + string(rune('a'+i)),
			Data:      "memory",
			Embedding: vec(float32(i) - 2),
			UserID:    "u1",
			CreatedAt: time.Now().UTC(),
		})
	}
	if err := store.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := store.Search(ctx, vec(0), "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Fatalf("score %v out of [0,1] bounds", r.Score)
		}
	}
}

func testDimensionGuard(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.EnsureCollectionExists(ctx, 1536, false); err != nil {
		t.Fatalf("initial EnsureCollectionExists: %v", err)
	}

	err := store.EnsureCollectionExists(ctx, 1024, false)
	if err == nil {
		t.Fatal("expected SchemaMismatchError for a dimension change with allowRecreation=false")
	}

	if err := store.EnsureCollectionExists(ctx, 1024, true); err != nil {
		t.Fatalf("EnsureCollectionExists with allowRecreation=true: %v", err)
	}

	desc, err := store.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.VectorSize != 1024 {
		t.Fatalf("expected recreated collection to declare size 1024, got %d", desc.VectorSize)
	}

	items, err := store.List(ctx, "", 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected recreated collection to be empty, got %d items", len(items))
	}
}
