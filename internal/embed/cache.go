package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Cache is an in-memory cache of embedding vectors keyed by text content
// hash. Oldest entries are evicted once maxSize is reached.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cachedEmbedding
	maxSize int
	ttl     time.Duration
}

type cachedEmbedding struct {
	vector    []float32
	createdAt time.Time
}

// NewCache creates a Cache holding at most maxSize entries. A zero ttl means
// entries never expire.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]cachedEmbedding),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Get retrieves a cached embedding, or ok=false if absent or expired.
func (c *Cache) Get(text string) ([]float32, bool) {
	key := cacheKey(text)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	result := make([]float32, len(entry.vector))
	copy(result, entry.vector)
	return result, true
}

// Set stores an embedding, evicting the oldest entries when full.
func (c *Cache) Set(text string, vector []float32) {
	vectorCopy := make([]float32, len(vector))
	copy(vectorCopy, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[cacheKey(text)] = cachedEmbedding{vector: vectorCopy, createdAt: time.Now()}
}

// evictOldest removes roughly 10% of entries, oldest first. Caller holds the
// lock.
func (c *Cache) evictOldest() {
	toEvict := max(c.maxSize/10, 1)
	for i := 0; i < toEvict; i++ {
		var oldestKey string
		var oldestAt time.Time
		for k, v := range c.entries {
			if oldestKey == "" || v.createdAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = v.createdAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CachedProvider wraps a Provider with a Cache so re-embedding unchanged
// text is served locally.
type CachedProvider struct {
	inner Provider
	cache *Cache
}

// WithCache wraps a Provider with an embedding cache of the given size.
func WithCache(p Provider, cacheSize int) *CachedProvider {
	return &CachedProvider{inner: p, cache: NewCache(cacheSize, 0)}
}

// Embed returns the cached embedding when available.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, found := c.cache.Get(text); found {
		return cached, nil
	}
	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, embedding)
	return embedding, nil
}

// EmbedBatch serves cached texts locally and forwards only the misses.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIndices []int
	var missTexts []string

	for i, text := range texts {
		if cached, found := c.cache.Get(text); found {
			results[i] = cached
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIndices {
		results[idx] = fresh[i]
		c.cache.Set(missTexts[i], fresh[i])
	}
	return results, nil
}

// Model returns the wrapped provider's model name.
func (c *CachedProvider) Model() string { return c.inner.Model() }

// Dimensions returns the wrapped provider's vector length.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// Ping forwards to the wrapped provider.
func (c *CachedProvider) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }

// CacheSize returns the number of cached embeddings.
func (c *CachedProvider) CacheSize() int { return c.cache.Size() }
