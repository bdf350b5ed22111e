package embedding

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// CachedProvider wraps a Provider with a VectorCache. Concurrent requests
// for the same text share one upstream call.
type CachedProvider struct {
	next  Provider
	cache *VectorCache
	group singleflight.Group
}

// NewCachedProvider wraps next with cache
func NewCachedProvider(next Provider, cache *VectorCache) *CachedProvider {
	return &CachedProvider{next: next, cache: cache}
}

// Name returns the wrapped provider's name
func (p *CachedProvider) Name() string {
	return p.next.Name()
}

// Embed returns the cached vector or computes it once. The shared upstream
// call does not inherit any one caller's cancellation; each caller stops
// waiting when its own ctx is done. The wrapped provider's client timeout
// bounds the shared call.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v := p.cache.Get(text); v != nil {
		return v, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan(text, func() (interface{}, error) {
		vec, err := p.next.Embed(shared, text)
		if err != nil {
			return nil, err
		}
		p.cache.Set(text, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

// Stats returns the underlying cache statistics
func (p *CachedProvider) Stats() CacheStats {
	return p.cache.Stats()
}
