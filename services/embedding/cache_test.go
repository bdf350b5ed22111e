package embedding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVectorCache_GetSet(t *testing.T) {
	cache := NewVectorCache(10, time.Minute)

	assert.Nil(t, cache.Get("what is sigce"))

	cache.Set("what is sigce", []float32{1, 2, 3})
	assert.Equal(t, []float32{1, 2, 3}, cache.Get("what is sigce"))

	cache.Set("what is sigce", []float32{4})
	assert.Equal(t, []float32{4}, cache.Get("what is sigce"))

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestVectorCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewVectorCache(2, time.Minute)

	cache.Set("a", []float32{1})
	cache.Set("b", []float32{2})
	cache.Get("a")
	cache.Set("c", []float32{3})

	assert.NotNil(t, cache.Get("a"))
	assert.Nil(t, cache.Get("b"))
	assert.NotNil(t, cache.Get("c"))
	assert.Equal(t, 2, cache.Stats().Size)
}

func TestVectorCache_Expiry(t *testing.T) {
	cache := NewVectorCache(10, 10*time.Millisecond)
	cache.Set("a", []float32{1})

	time.Sleep(20 * time.Millisecond)

	assert.Nil(t, cache.Get("a"))
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestVectorCache_ZeroTTLNeverExpires(t *testing.T) {
	cache := NewVectorCache(0, 0)
	cache.Set("a", []float32{1})

	assert.Equal(t, 1, cache.Stats().MaxSize)
	assert.NotNil(t, cache.Get("a"))
}
