package inmemory

import (
	"context"
	"testing"

	"github.com/memnetlabs/memnet/memory"
	"github.com/memnetlabs/memnet/memory/storetest"
)

func TestInMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		return New("test_collection")
	})
}

func TestSearchPrefersCloserVector(t *testing.T) {
	ctx := context.Background()
	s := New("test_collection")
	if err := s.EnsureCollectionExists(ctx, 3, true); err != nil {
		t.Fatalf("EnsureCollectionExists: %v", err)
	}

	near := memory.MemoryItem{ID: "near", Data: "near", Embedding: []float32{1, 0, 0}, UserID: "u1"}
	far := memory.MemoryItem{ID: "far", Data: "far", Embedding: []float32{0, 1, 0}, UserID: "u1"}
	if err := s.Insert(ctx, []memory.MemoryItem{far, near}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, "u1", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Memory.ID != "near" {
		t.Fatalf("expected nearest vector first, got %q", results[0].Memory.ID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected near score (%v) > far score (%v)", results[0].Score, results[1].Score)
	}
}

func TestDeleteByUserOnlyRemovesThatPartition(t *testing.T) {
	ctx := context.Background()
	s := New("test_collection")
	if err := s.EnsureCollectionExists(ctx, 2, true); err != nil {
		t.Fatalf("EnsureCollectionExists: %v", err)
	}

	items := []memory.MemoryItem{
		{ID: "u1-a", Embedding: []float32{1, 0}, UserID: "u1"},
		{ID: "u2-a", Embedding: []float32{1, 0}, UserID: "u2"},
	}
	if err := s.Insert(ctx, items); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.DeleteByUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteByUser: %v", err)
	}

	if _, found, _ := s.Get(ctx, "u1-a"); found {
		t.Fatal("expected u1's item to be gone")
	}
	if _, found, _ := s.Get(ctx, "u2-a"); !found {
		t.Fatal("expected u2's item to survive")
	}
}
