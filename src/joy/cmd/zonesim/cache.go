package main

import (
	"sync"

	"pagezone/src/joy"
	"pagezone/src/lib/trust"
)

// reclaimBatch is the most blocks one reclaim pass will evict.
const reclaimBatch = 32

type cachedBlock struct {
	page  *joy.Page
	order uint
}

// pageCache holds blocks that are in use but can be given back under
// pressure, oldest first.  Dirty blocks sit in the swap cache and can only
// be evicted by a caller that may do I/O.
type pageCache struct {
	mu      sync.Mutex
	mem     *joy.MemSystem
	blocks  []cachedBlock
	evicted int
}

func newPageCache(m *joy.MemSystem) *pageCache {
	return &pageCache{mem: m}
}

// Add hands an allocated block to the cache.
func (c *pageCache) Add(p *joy.Page, order uint, dirty bool) {
	if dirty {
		p.SetSwapCache()
	}
	c.mu.Lock()
	c.blocks = append(c.blocks, cachedBlock{p, order})
	c.mu.Unlock()
}

func (c *pageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

func (c *pageCache) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// TryToFreePages evicts up to reclaimBatch blocks.  Locked blocks are
// skipped, as are dirty ones unless gfp allows I/O.
func (c *pageCache) TryToFreePages(f *joy.Family, gfp joy.GFP) bool {
	var victims []cachedBlock
	c.mu.Lock()
	kept := c.blocks[:0]
	for _, b := range c.blocks {
		if len(victims) == reclaimBatch || !b.page.TryLock() {
			kept = append(kept, b)
			continue
		}
		if b.page.InSwapCache() {
			if gfp&joy.GFPIO == 0 {
				b.page.Unlock()
				kept = append(kept, b)
				continue
			}
			// written back
			b.page.ClearSwapCache()
		}
		victims = append(victims, b)
	}
	for i := len(kept); i < len(c.blocks); i++ {
		c.blocks[i] = cachedBlock{}
	}
	c.blocks = kept
	c.evicted += len(victims)
	c.mu.Unlock()

	for _, b := range victims {
		b.page.Unlock()
		c.mem.FreePages(b.page, b.order)
	}
	if len(victims) > 0 {
		trust.Debugf("family %d (%s): reclaimed %d cached blocks for %s",
			f.Id, f.Name(), len(victims), gfp)
	}
	return len(victims) > 0
}

// Drop frees every cached block regardless of state.
func (c *pageCache) Drop() {
	c.mu.Lock()
	blocks := c.blocks
	c.blocks = nil
	c.mu.Unlock()
	for _, b := range blocks {
		b.page.ClearSwapCache()
		c.mem.FreePages(b.page, b.order)
	}
}
