package embedding

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// cacheKey is a 128-bit digest of the text, so long blocks do not pin their
// text in memory.
type cacheKey [16]byte

func keyOf(text string) cacheKey {
	var k cacheKey
	sum := blake2b.Sum256([]byte(text))
	copy(k[:], sum[:16])
	return k
}

// EmbeddingCache is an LRU of vectors keyed by text digest.
type EmbeddingCache struct {
	capacity int
	items    map[cacheKey]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   cacheKey
	value []float32
}

// NewEmbeddingCache creates a cache holding up to capacity vectors. A
// capacity of zero or less disables caching.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		items:    make(map[cacheKey]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the vector cached for text.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	k := keyOf(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[k]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return append([]float32(nil), elem.Value.(*cacheEntry).value...), true
}

// Set stores a copy of vec for text, evicting the least recently used entry
// when full.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	if c.capacity <= 0 {
		return
	}
	k := keyOf(text)
	vec = append([]float32(nil), vec...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[k]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = vec
		return
	}
	c.items[k] = c.lru.PushFront(&cacheEntry{key: k, value: vec})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachedEmbedder serves repeated texts from an LRU and sends only the misses
// of a batch to the wrapped embedder. Re-ingesting a document whose blocks
// did not change costs no model calls.
type CachedEmbedder struct {
	Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps e with a cache of capacity vectors. With capacity
// <= 0 it returns e unchanged.
func NewCachedEmbedder(e Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return e
	}
	return &CachedEmbedder{Embedder: e, cache: NewEmbeddingCache(capacity)}
}

// Embed returns one vector per text, calling the wrapped embedder once for
// all uncached texts.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}
	if len(missText) == 0 {
		return out, nil
	}
	vecs, err := c.Embedder.Embed(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missText), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Set(missText[j], vecs[j])
	}
	return out, nil
}
