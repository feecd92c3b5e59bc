package game

import (
	"fmt"
	"sync"
)

// NameCache maps player IDs to display names. The login handler stores
// the authenticated name; lookups for players whose login ran on another
// instance fall back to a synthetic "Player_{id}". The map is bounded so
// a churn of IDs cannot grow it without limit.
type NameCache struct {
	mu    sync.Mutex
	names map[uint64]string
	max   int
}

func NewNameCache(max int) *NameCache {
	if max < 1 {
		max = 1
	}
	return &NameCache{
		names: make(map[uint64]string),
		max:   max,
	}
}

// Get returns the cached name, caching the synthetic fallback on a miss
// while capacity remains.
func (c *NameCache) Get(id uint64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[id]; ok {
		return name
	}
	name := fmt.Sprintf("Player_%d", id)
	if len(c.names) < c.max {
		c.names[id] = name
	}
	return name
}

// Set records an authoritative name. Existing entries are replaced even
// at capacity; new entries are dropped once the cache is full.
func (c *NameCache) Set(id uint64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[id]; ok || len(c.names) < c.max {
		c.names[id] = name
	}
}

func (c *NameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}
