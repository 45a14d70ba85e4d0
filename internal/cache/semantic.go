// Package cache provides a small in-process semantic cache: entries are
// keyed by an embedding of their input text and hits are decided by cosine
// similarity rather than exact match. It is strictly an optimization — a
// miss (including any embedding failure) behaves identically to having no
// cache at all.
package cache

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
)

// Embedder is the slice of the LLM gateway the cache needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type entry struct {
	key       string
	vector    []float32
	value     string
	expiresAt time.Time
}

type Semantic struct {
	mu        sync.Mutex
	log       *logger.Logger
	embed     Embedder
	threshold float64
	ttl       time.Duration
	max       int
	order     *list.List               // front = most recently used
	elems     map[string]*list.Element // exact-key index for Put dedupe
}

// NewSemantic builds a cache with the given similarity threshold, TTL and
// max entry bound (LRU eviction beyond it).
func NewSemantic(log *logger.Logger, embed Embedder, threshold float64, ttl time.Duration, max int) *Semantic {
	if max <= 0 {
		max = 256
	}
	return &Semantic{
		log:       log.With("component", "SemanticCache"),
		embed:     embed,
		threshold: threshold,
		ttl:       ttl,
		max:       max,
		order:     list.New(),
		elems:     make(map[string]*list.Element),
	}
}

// Get embeds key and returns the stored value of the most similar live
// entry at or above the threshold. Expired entries are dropped lazily here.
func (c *Semantic) Get(ctx context.Context, key string) (string, bool) {
	vec, err := c.embedOne(ctx, key)
	if err != nil {
		c.log.Debug("cache lookup degraded to miss", "error", err)
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var best *list.Element
	bestSim := c.threshold

	for e := c.order.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*entry)
		if now.After(ent.expiresAt) {
			c.order.Remove(e)
			delete(c.elems, ent.key)
			e = next
			continue
		}
		if sim := cosineSimilarity(vec, ent.vector); sim >= bestSim {
			bestSim = sim
			best = e
		}
		e = next
	}

	if best == nil {
		return "", false
	}
	c.order.MoveToFront(best)
	return best.Value.(*entry).value, true
}

// Put stores value under the embedding of key, replacing an exact-key
// duplicate and evicting the least recently used entry beyond the bound.
func (c *Semantic) Put(ctx context.Context, key, value string) {
	vec, err := c.embedOne(ctx, key)
	if err != nil {
		c.log.Debug("cache store skipped", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.elems[key]; ok {
		ent := e.Value.(*entry)
		ent.vector = vec
		ent.value = value
		ent.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(e)
		return
	}

	e := c.order.PushFront(&entry{
		key:       key,
		vector:    vec,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.elems[key] = e

	for c.order.Len() > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.elems, oldest.Value.(*entry).key)
	}
}

func (c *Semantic) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Semantic) embedOne(ctx context.Context, key string) ([]float32, error) {
	vecs, err := c.embed.Embed(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, context.Canceled
	}
	return vecs[0], nil
}

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
