package memory_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"testing"

	"github.com/memnetlabs/memnet/memory"
	"github.com/memnetlabs/memnet/memory/embedder/mock"
	"github.com/memnetlabs/memnet/memory/store/inmemory"
)

// topicEmbedder assigns each text a dominant axis by keyword match, so texts
// about the same thing land close in cosine space and texts about different
// things don't. Real embedders give this for free; this stub buys the same
// property for deterministic scenario tests.
type topicEmbedder struct {
	dim int
}

func newTopicEmbedder() *topicEmbedder { return &topicEmbedder{dim: 16} }

func (e *topicEmbedder) topic(text string) int {
	switch {
	case contains(text, "jog", "running", "run"):
		return 1
	case contains(text, "year", "age", "old"):
		return 2
	case contains(text, "allerg", "nut"):
		return 3
	case contains(text, "name", "zack"):
		return 4
	case contains(text, "pizza", "food"):
		return 5
	default:
		h := fnv.New32a()
		h.Write([]byte(text))
		return 6 + int(h.Sum32()%8)
	}
}

func contains(text string, needles ...string) bool {
	lower := []byte(text)
	for i := range lower {
		if lower[i] >= 'A' && lower[i] <= 'Z' {
			lower[i] += 'a' - 'A'
		}
	}
	s := string(lower)
	for _, n := range needles {
		if len(n) > 0 && indexOf(s, n) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	topic := e.topic(text) % e.dim
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, e.dim)
	vec[topic] = 1.0
	for i := range vec {
		if i == topic {
			continue
		}
		seed = seed*1664525 + 1013904223
		vec[i] = 0.02 * float32(int32(seed)%100) / 100
	}
	return normalize(vec), nil
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (e *topicEmbedder) VectorSize(ctx context.Context) (int, error) { return e.dim, nil }

// scriptedLLM is a test double for memory.LLMProvider whose three methods
// are fully controlled by the test: extractFn supplies ExtractMemories'
// output, mergeFn supplies MergeMemories' output (defaulting to "prefer the
// new statement"), and rerankFn supplies Rerank's behavior (defaulting to
// identity). Each can be swapped per test to exercise a distinct failure or
// success path.
type scriptedLLM struct {
	extractFn func(transcript string) ([]memory.ExtractedMemory, error)
	mergeFn   func(existing, new string) (string, error)
	rerankFn  func(query string, results []memory.MemorySearchResult) ([]memory.MemorySearchResult, error)
}

func (s *scriptedLLM) ExtractMemories(ctx context.Context, transcript string) ([]memory.ExtractedMemory, error) {
	return s.extractFn(transcript)
}

func (s *scriptedLLM) MergeMemories(ctx context.Context, existing, new string) (string, error) {
	if s.mergeFn != nil {
		return s.mergeFn(existing, new)
	}
	return new, nil
}

func (s *scriptedLLM) Rerank(ctx context.Context, query string, results []memory.MemorySearchResult) ([]memory.MemorySearchResult, error) {
	if s.rerankFn != nil {
		return s.rerankFn(query, results)
	}
	return results, nil
}

func extractOneLine(data string) func(string) ([]memory.ExtractedMemory, error) {
	return func(string) ([]memory.ExtractedMemory, error) {
		return []memory.ExtractedMemory{{Data: data}}, nil
	}
}

func newTestService(t *testing.T, llm memory.LLMProvider, cfg *memory.Config) (*memory.Service, memory.Store) {
	t.Helper()
	store := inmemory.New("memnet_test")
	svc, err := memory.NewService(store, newTopicEmbedder(), llm, cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Initialize(context.Background(), false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return svc, store
}

// S1: Extract-insert. A conversation extracts two unrelated statements;
// both are inserted as distinct memories under the user's partition.
func TestAdd_ExtractInsert(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{extractFn: func(string) ([]memory.ExtractedMemory, error) {
		return []memory.ExtractedMemory{
			{Data: "My name is Zack."},
			{Data: "I am allergic to nuts."},
		}, nil
	}}
	svc, _ := newTestService(t, llm, memory.DefaultConfig)

	resp, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "hi"}},
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.Event != memory.EventAdd {
			t.Errorf("expected EventAdd, got %v", r.Event)
		}
	}
	if resp.Results[0].ID == resp.Results[1].ID {
		t.Errorf("expected distinct ids, got the same one twice")
	}

	all, err := svc.GetAll(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 stored items, got %d", len(all))
	}
}

// S2 / invariant 8: Conflict resolution and dedup. A second, topically
// overlapping statement merges into the first instead of creating a new
// memory; the event sequence across the two Add calls is [add, update].
func TestAdd_DedupMergesOnRepeatTopic(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	cfg := &memory.Config{
		VectorStore:        memory.VectorStoreConfig{CollectionName: "memnet_test"},
		DuplicateThreshold: 0.6,
		EnableReranking:    false,
	}
	svc, _ := newTestService(t, llm, cfg)

	llm.extractFn = extractOneLine("I'm 20 years old.")
	resp1, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "I'm 20 years old."}},
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if len(resp1.Results) != 1 || resp1.Results[0].Event != memory.EventAdd {
		t.Fatalf("expected a single add event, got %+v", resp1.Results)
	}

	llm.extractFn = extractOneLine("My age is actually 18.")
	resp2, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "My age is actually 18."}},
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if len(resp2.Results) != 1 || resp2.Results[0].Event != memory.EventUpdate {
		t.Fatalf("expected a single update event, got %+v", resp2.Results)
	}
	if resp2.Results[0].ID != resp1.Results[0].ID {
		t.Errorf("expected the merge to update the original id")
	}

	all, err := svc.GetAll(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored memory after merge, got %d", len(all))
	}
	if all[0].Data != "My age is actually 18." {
		t.Errorf("expected merge to prefer the new statement, got %q", all[0].Data)
	}
}

// S3: Recommendation. Search ranks the topically closest memory first.
func TestSearch_RanksByTopic(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{extractFn: func(string) ([]memory.ExtractedMemory, error) {
		return []memory.ExtractedMemory{{Data: "placeholder"}}, nil
	}}
	svc, _ := newTestService(t, llm, memory.DefaultConfig)

	seed := func(data string) {
		llm.extractFn = extractOneLine(data)
		if _, err := svc.Add(ctx, memory.AddMemoryRequest{
			Messages: []memory.Message{{Role: "user", Content: data}},
			UserID:   "u1",
		}); err != nil {
			t.Fatalf("seed Add(%q): %v", data, err)
		}
	}
	seed("I love jogging every morning.")
	seed("I am allergic to nuts.")
	seed("My favorite food is pizza.")

	results, err := svc.Search(ctx, memory.SearchMemoryRequest{Query: "running plans", UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Memory.Data != "I love jogging every morning." {
		t.Fatalf("expected the jogging memory to rank first, got %+v", results)
	}
}

// TestSearch_RerankReordersResults verifies Search applies a working
// Rerank's order rather than the store's own ranking.
func TestSearch_RerankReordersResults(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	cfg := &memory.Config{
		VectorStore:        memory.VectorStoreConfig{CollectionName: "memnet_test"},
		DuplicateThreshold: 0.7,
		EnableReranking:    true,
	}
	svc, _ := newTestService(t, llm, cfg)

	seed := func(data string) {
		llm.extractFn = extractOneLine(data)
		if _, err := svc.Add(ctx, memory.AddMemoryRequest{
			Messages: []memory.Message{{Role: "user", Content: data}},
			UserID:   "u1",
		}); err != nil {
			t.Fatalf("seed Add(%q): %v", data, err)
		}
	}
	seed("I love jogging every morning.")
	seed("I am allergic to nuts.")

	llm.rerankFn = func(query string, in []memory.MemorySearchResult) ([]memory.MemorySearchResult, error) {
		out := make([]memory.MemorySearchResult, len(in))
		for i, r := range in {
			out[len(in)-1-i] = r
		}
		return out, nil
	}

	results, err := svc.Search(ctx, memory.SearchMemoryRequest{Query: "running plans", UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Memory.Data == "I love jogging every morning." {
		t.Errorf("expected rerank's reversed order to be honored, jogging memory should not be first")
	}
}

// S4: Partition isolation at the service level, layered on top of the
// store-level guarantee storetest already exercises directly.
func TestSearch_PartitionIsolation(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	svc, _ := newTestService(t, llm, memory.DefaultConfig)

	llm.extractFn = extractOneLine("I love jogging every morning.")
	if _, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "x"}}, UserID: "u1",
	}); err != nil {
		t.Fatalf("Add u1: %v", err)
	}
	llm.extractFn = extractOneLine("I love jogging on weekends.")
	if _, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "x"}}, UserID: "u2",
	}); err != nil {
		t.Fatalf("Add u2: %v", err)
	}

	results, err := svc.Search(ctx, memory.SearchMemoryRequest{Query: "jogging", UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Memory.UserID != "u1" {
			t.Errorf("Search for u1 leaked a memory from partition %q", r.Memory.UserID)
		}
	}
}

// S5: Recreate-on-dimension-change at the service level: a second Service
// over the same store, backed by an embedder with a different native
// dimension, fails to initialize without allowRecreation and succeeds
// (wiping the collection) with it.
func TestInitialize_RecreatesOnDimensionChange(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{extractFn: extractOneLine("I love jogging every morning.")}
	store := inmemory.New("memnet_test")

	svc1, err := memory.NewService(store, newTopicEmbedder(), llm, memory.DefaultConfig)
	if err != nil {
		t.Fatalf("NewService svc1: %v", err)
	}
	if err := svc1.Initialize(ctx, false); err != nil {
		t.Fatalf("Initialize svc1: %v", err)
	}
	if _, err := svc1.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "x"}}, UserID: "u1",
	}); err != nil {
		t.Fatalf("Add via svc1: %v", err)
	}

	wideEmbedder := mock.New(32)
	svc2, err := memory.NewService(store, wideEmbedder, llm, memory.DefaultConfig)
	if err != nil {
		t.Fatalf("NewService svc2: %v", err)
	}
	err = svc2.Initialize(ctx, false)
	if err == nil {
		t.Fatal("expected Initialize without allowRecreation to fail on a dimension change")
	}
	if !errors.Is(err, memory.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}

	if err := svc2.Initialize(ctx, true); err != nil {
		t.Fatalf("Initialize svc2 with allowRecreation: %v", err)
	}
	all, err := svc2.GetAll(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected recreation to wipe the collection, found %d items", len(all))
	}
}

// S6 / invariant 10: Fail-open rerank. A Rerank stub simulating an
// unparseable model response returns the pre-rerank list with a nil error;
// Search must surface that list unchanged, not an error.
func TestSearch_RerankFailsOpenOnParseFailure(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	cfg := &memory.Config{
		VectorStore:     memory.VectorStoreConfig{CollectionName: "memnet_test"},
		EnableReranking: true,
	}
	svc, _ := newTestService(t, llm, cfg)

	llm.extractFn = extractOneLine("I love jogging every morning.")
	if _, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "x"}}, UserID: "u1",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	llm.rerankFn = func(query string, in []memory.MemorySearchResult) ([]memory.MemorySearchResult, error) {
		// Mirrors what each real LLMProvider.Rerank does on a JSON parse
		// failure: return the pre-rerank order, with a nil error.
		return in, nil
	}

	results, err := svc.Search(ctx, memory.SearchMemoryRequest{Query: "jogging", UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("Search should fail open, not error: %v", err)
	}
	if len(results) != 1 || results[0].Memory.Data != "I love jogging every morning." {
		t.Fatalf("expected the pre-rerank list unchanged, got %+v", results)
	}
}

// A genuine Rerank transport error must propagate, never be swallowed as if
// it were a fail-open parse failure.
func TestSearch_RerankTransportErrorPropagates(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{}
	cfg := &memory.Config{
		VectorStore:     memory.VectorStoreConfig{CollectionName: "memnet_test"},
		EnableReranking: true,
	}
	svc, _ := newTestService(t, llm, cfg)

	llm.extractFn = extractOneLine("I love jogging every morning.")
	if _, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "x"}}, UserID: "u1",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	wantErr := errors.New("connection reset")
	llm.rerankFn = func(query string, in []memory.MemorySearchResult) ([]memory.MemorySearchResult, error) {
		return nil, wantErr
	}

	_, err := svc.Search(ctx, memory.SearchMemoryRequest{Query: "jogging", UserID: "u1", Limit: 10})
	if err == nil {
		t.Fatal("expected a transport error to propagate from Search")
	}
	if !errors.Is(err, memory.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

// Update re-embeds content and is visible through GetAll; Delete erases it.
func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{extractFn: extractOneLine("I love jogging every morning.")}
	svc, _ := newTestService(t, llm, memory.DefaultConfig)

	resp, err := svc.Add(ctx, memory.AddMemoryRequest{
		Messages: []memory.Message{{Role: "user", Content: "x"}}, UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id := resp.Results[0].ID

	ok, err := svc.Update(ctx, id, "I love jogging every evening.")
	if err != nil || !ok {
		t.Fatalf("Update: ok=%v err=%v", ok, err)
	}
	item, found, err := svc.Get(ctx, id)
	if err != nil || !found {
		t.Fatalf("Get after update: found=%v err=%v", found, err)
	}
	if item.Data != "I love jogging every evening." {
		t.Errorf("expected updated content, got %q", item.Data)
	}

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, found, err = svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if found {
		t.Error("expected the item to be gone after Delete")
	}
}
