package joy

import (
	"pagezone/src/lib/upbeat"
)

// markUsed records that one half of the pair holding the block at idx has
// changed state.  The top order has no buddies and is not tracked.
func (z *Zone) markUsed(idx uint64, order uint) {
	if order+1 >= z.maxOrder() {
		return
	}
	z.freeArea[order].buddies.Toggle(upbeat.PairIndex(idx, order))
}

// rmqueue takes a block of 1<<order pages off the free lists, splitting a
// larger block if it has to.  It returns nil if no block at or above order
// is free.
func (z *Zone) rmqueue(order uint) *Page {
	z.lock.Lock()
	for curr := order; curr < z.maxOrder(); curr++ {
		area := &z.freeArea[curr]
		pfn := area.list.Pop()
		if pfn == NoPage {
			continue
		}
		idx := uint64(uint32(pfn) - z.offset)
		z.markUsed(idx, curr)
		z.freePages -= uint64(1) << order

		page := z.expand(idx, order, curr)
		z.lock.Unlock()

		page.count.Store(1)
		return page
	}
	z.lock.Unlock()
	return nil
}

// expand splits the block at idx of order high down to order low.  The lower
// half of each split goes back on the free list of its order; the last upper
// half is returned.
func (z *Zone) expand(idx uint64, low uint, high uint) *Page {
	size := uint64(1) << high
	for high > low {
		if p := z.page(idx); z.badRange(p) {
			bug(ErrorMemoryCorrupted, "zone %s: expand of page %d outside the zone", z.name, p.pfn)
		}
		high--
		size >>= 1
		z.freeArea[high].list.Push(int32(z.offset) + int32(idx))
		z.markUsed(idx, high)
		idx += size
	}
	p := z.page(idx)
	if z.badRange(p) {
		bug(ErrorMemoryCorrupted, "zone %s: expand returned page %d outside the zone", z.name, p.pfn)
	}
	return p
}

// freeBlock gives a block of 1<<order pages back to the zone, merging it with
// its buddy for as long as the buddy is free too.  The caller has already
// checked that the block may be freed.
func (z *Zone) freeBlock(p *Page, order uint) {
	idx := uint64(p.pfn - z.offset)
	if idx&((uint64(1)<<order)-1) != 0 {
		bug(ErrorMemoryBadPageRequest, "zone %s: page %d is not aligned to order %d",
			z.name, p.pfn, order)
	}

	z.lock.Lock()
	z.freePages += uint64(1) << order

	for order+1 < z.maxOrder() {
		area := &z.freeArea[order]
		if !area.buddies.Toggle(upbeat.PairIndex(idx, order)) {
			// the buddy is still allocated
			break
		}
		buddy := z.page(upbeat.BuddyOf(idx, order))
		if z.badRange(buddy) {
			bug(ErrorMemoryCorrupted, "zone %s: buddy %d of page %d is outside the zone",
				z.name, buddy.pfn, p.pfn)
		}
		area.list.Remove(int32(buddy.pfn))
		idx &^= uint64(1) << order
		order++
	}
	z.freeArea[order].list.Push(int32(z.offset) + int32(idx))

	if z.freePages >= z.pagesHigh {
		z.lowOnMemory = false
	}
	z.lock.Unlock()
}
