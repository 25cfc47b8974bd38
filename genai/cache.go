package genai

import (
	"context"
	"sync"
)

// GeocodeCache stores resolved places keyed by normalized query text
type GeocodeCache interface {
	Get(ctx context.Context, query string) (Place, bool, error)
	Put(ctx context.Context, query string, place Place) error
}

// MemoryCache is an in-process GeocodeCache
type MemoryCache struct {
	mu     sync.RWMutex
	places map[string]Place
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{places: make(map[string]Place)}
}

func (c *MemoryCache) Get(ctx context.Context, query string) (Place, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.places[normalizeQuery(query)]
	return p, ok, nil
}

func (c *MemoryCache) Put(ctx context.Context, query string, place Place) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.places[normalizeQuery(query)] = place
	return nil
}
