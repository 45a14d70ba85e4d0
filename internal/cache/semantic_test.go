package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
)

// mapEmbedder returns a fixed vector per key so tests control similarity
// exactly. Unknown keys embed to a zero-similarity axis of their own.
type mapEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mapEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if v, ok := m.vectors[in]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 1}
	}
	return out, nil
}

func TestGetReturnsSimilarEntryAboveThreshold(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float32{
		"intro to linear algebra":        {1, 0, 0},
		"introduction to linear algebra": {0.99, 0.14, 0}, // cos ~ 0.99
	}}
	c := NewSemantic(logger.NewNop(), emb, 0.92, time.Minute, 16)

	c.Put(context.Background(), "intro to linear algebra", "cached-context")

	got, ok := c.Get(context.Background(), "introduction to linear algebra")
	if !ok {
		t.Fatal("expected a semantic hit for a near-identical key")
	}
	if got != "cached-context" {
		t.Fatalf("value = %q, want %q", got, "cached-context")
	}
}

func TestGetMissesBelowThreshold(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float32{
		"intro to linear algebra": {1, 0, 0},
		"organic chemistry":       {0, 1, 0},
	}}
	c := NewSemantic(logger.NewNop(), emb, 0.92, time.Minute, 16)

	c.Put(context.Background(), "intro to linear algebra", "cached-context")

	if _, ok := c.Get(context.Background(), "organic chemistry"); ok {
		t.Fatal("orthogonal keys must not hit")
	}
}

func TestExpiredEntriesAreDroppedOnGet(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float32{"k": {1, 0, 0}}}
	c := NewSemantic(logger.NewNop(), emb, 0.9, time.Millisecond, 16)

	c.Put(context.Background(), "k", "v")
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("expired entry must read as a miss")
	}
	if c.Len() != 0 {
		t.Fatalf("len = %d, want 0 after lazy expiry", c.Len())
	}
}

func TestEvictsLeastRecentlyUsedBeyondBound(t *testing.T) {
	vectors := make(map[string][]float32)
	for i := 0; i < 4; i++ {
		v := make([]float32, 4)
		v[i] = 1
		vectors[fmt.Sprintf("key-%d", i)] = v
	}
	emb := &mapEmbedder{vectors: vectors}
	c := NewSemantic(logger.NewNop(), emb, 0.9, time.Minute, 3)

	for i := 0; i < 3; i++ {
		c.Put(context.Background(), fmt.Sprintf("key-%d", i), fmt.Sprintf("val-%d", i))
	}
	// Touch key-0 so key-1 becomes the eviction candidate.
	if _, ok := c.Get(context.Background(), "key-0"); !ok {
		t.Fatal("expected key-0 to hit before eviction")
	}

	c.Put(context.Background(), "key-3", "val-3")

	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if _, ok := c.Get(context.Background(), "key-1"); ok {
		t.Fatal("key-1 should have been evicted as least recently used")
	}
	if _, ok := c.Get(context.Background(), "key-0"); !ok {
		t.Fatal("recently used key-0 should survive eviction")
	}
}

func TestPutReplacesExactKeyDuplicate(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float32{"k": {1, 0, 0}}}
	c := NewSemantic(logger.NewNop(), emb, 0.9, time.Minute, 16)

	c.Put(context.Background(), "k", "old")
	c.Put(context.Background(), "k", "new")

	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1 after exact-key replace", c.Len())
	}
	got, ok := c.Get(context.Background(), "k")
	if !ok || got != "new" {
		t.Fatalf("value = %q (hit=%v), want %q", got, ok, "new")
	}
}

func TestEmbeddingFailureDegradesToMiss(t *testing.T) {
	emb := &mapEmbedder{err: errors.New("embedding backend down")}
	c := NewSemantic(logger.NewNop(), emb, 0.9, time.Minute, 16)

	c.Put(context.Background(), "k", "v")
	if c.Len() != 0 {
		t.Fatalf("len = %d, want 0 when the store is skipped", c.Len())
	}
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("lookup must degrade to a miss when embedding fails")
	}
}
