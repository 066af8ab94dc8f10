package embedding

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyperjump/kioku/internal/models"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text.
type EmbeddingCache struct {
	cache *lru.Cache[string, models.Vector]
}

// NewEmbeddingCache creates a new cache with the given capacity.
// A non-positive capacity disables caching.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		return &EmbeddingCache{}
	}
	c, err := lru.New[string, models.Vector](capacity)
	if err != nil {
		return &EmbeddingCache{}
	}
	return &EmbeddingCache{cache: c}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) (models.Vector, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry if at capacity.
func (c *EmbeddingCache) Set(key string, value models.Vector) {
	if c.cache == nil {
		return
	}
	c.cache.Add(key, value)
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
