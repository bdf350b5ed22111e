package embedding

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	vector     []float32
	insertedAt time.Time
	element    *list.Element
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(e.insertedAt) > ttl
}

// VectorCache is an in-memory LRU cache with TTL for query embeddings,
// keyed by the exact query text.
type VectorCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewVectorCache creates a cache holding at most maxSize vectors for ttl.
// A zero ttl never expires entries.
func NewVectorCache(maxSize int, ttl time.Duration) *VectorCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &VectorCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached vector for text, or nil
func (c *VectorCache) Get(text string) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[text]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(text)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.vector
}

// Set stores the vector for text
func (c *VectorCache) Set(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[text]; exists {
		entry.vector = vector
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		vector:     vector,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(text)
	c.entries[text] = entry
}

// Stats returns cache statistics
func (c *VectorCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// must be called with lock held
func (c *VectorCache) removeEntry(text string) {
	if entry, exists := c.entries[text]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, text)
	}
}

// must be called with lock held
func (c *VectorCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.lruList.Remove(back)
	delete(c.entries, back.Value.(string))
}
