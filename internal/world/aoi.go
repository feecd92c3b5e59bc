package world

// aoiEntry is one player's cached visibility result.
type aoiEntry struct {
	visible        []uint64
	lastUpdateTick uint64
	lastPos        Vec3
}

// AOICache memoizes quadtree visibility queries. A cached set stays valid
// until the owner has moved at least posThreshold units or tickInterval
// ticks have passed, whichever comes first. Owned by the simulation
// goroutine.
type AOICache struct {
	entries      map[uint64]*aoiEntry
	tickInterval uint64
	posThreshold float32

	hits     uint64
	executed uint64
}

func NewAOICache(tickInterval uint64, posThreshold float32) *AOICache {
	return &AOICache{
		entries:      make(map[uint64]*aoiEntry),
		tickInterval: tickInterval,
		posThreshold: posThreshold,
	}
}

// ShouldUpdate reports whether the cached set for id must be recomputed.
func (c *AOICache) ShouldUpdate(id uint64, pos Vec3, tick uint64) bool {
	e, ok := c.entries[id]
	if !ok {
		return true
	}
	if tick-e.lastUpdateTick >= c.tickInterval {
		return true
	}
	return DistSq(pos, e.lastPos) >= c.posThreshold*c.posThreshold
}

// Get returns the cached visible set, counting a hit. Callers must not
// retain the slice across Store calls for the same id.
func (c *AOICache) Get(id uint64) []uint64 {
	c.hits++
	if e, ok := c.entries[id]; ok {
		return e.visible
	}
	return nil
}

// Store replaces the cached set for id, counting an executed query. The
// entry's slice is reused across refreshes to avoid per-tick allocation.
func (c *AOICache) Store(id uint64, visible []uint64, pos Vec3, tick uint64) []uint64 {
	c.executed++
	e, ok := c.entries[id]
	if !ok {
		e = &aoiEntry{}
		c.entries[id] = e
	}
	e.visible = append(e.visible[:0], visible...)
	e.lastUpdateTick = tick
	e.lastPos = pos
	return e.visible
}

// Remove drops the entry for id, forcing a recompute on next access.
func (c *AOICache) Remove(id uint64) {
	delete(c.entries, id)
}

func (c *AOICache) Len() int {
	return len(c.entries)
}

// Stats returns (cache hits, executed queries) since the last reset.
func (c *AOICache) Stats() (hits, executed uint64) {
	return c.hits, c.executed
}

// HitRatio is hits / (hits + executed); 0 when nothing was looked up.
func (c *AOICache) HitRatio() float64 {
	total := c.hits + c.executed
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *AOICache) ResetStats() {
	c.hits = 0
	c.executed = 0
}
