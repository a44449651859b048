package mock

import (
	"context"
	"math"
	"testing"
)

func TestEmbedIsDeterministic(t *testing.T) {
	e := New(0)
	ctx := context.Background()

	a, err := e.Embed(ctx, "I love jogging on weekends")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, "I love jogging on weekends")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbedIsUnitNorm(t *testing.T) {
	e := New(16)
	vec, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSquares)
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestEmbedDifferentTextDiffers(t *testing.T) {
	e := New(0)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "I love jogging")
	b, _ := e.Embed(ctx, "I hate jogging")

	equal := true
	for i := range a {
		if a[i] != b[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatal("expected different texts to produce different embeddings")
	}
}

func TestVectorSize(t *testing.T) {
	e := New(128)
	size, err := e.VectorSize(context.Background())
	if err != nil {
		t.Fatalf("VectorSize: %v", err)
	}
	if size != 128 {
		t.Fatalf("expected 128, got %d", size)
	}
}

func TestEmbedBatch(t *testing.T) {
	e := New(0)
	texts := []string{"a", "b", "c"}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	single, err := e.Embed(context.Background(), "b")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range single {
		if vecs[1][i] != single[i] {
			t.Fatalf("EmbedBatch result for %q diverged from Embed", "b")
		}
	}
}
