package joy

import (
	"sync"

	"pagezone/src/lib/upbeat"
)

// ZoneClass is the allocation class of a zone.  Lower classes are usable by
// more requests: every request can be served from DMA memory.
type ZoneClass int

const (
	ZoneDMA ZoneClass = iota
	ZoneNormal
	ZoneHighMem
	NumZones = upbeat.NumZoneClasses
)

var zoneNames = [NumZones]string{"DMA", "Normal", "HighMem"}

func (c ZoneClass) String() string {
	if c < 0 || int(c) >= NumZones {
		return "unknown"
	}
	return zoneNames[c]
}

// freeArea is the bucket of free blocks of one order.
type freeArea struct {
	list    PageList
	buddies upbeat.BuddyMap
}

// Zone is a contiguous run of the page table that shares an allocation
// class.  Everything below lock is guarded by it.
type Zone struct {
	name   string
	class  ZoneClass
	offset uint32 // first pfn
	size   uint32 // pages, holes included
	holes  uint32

	// per zone policy, fixed at boot
	balanced  bool
	pagesLow  uint64
	pagesMid  uint64
	pagesHigh uint64

	lock        sync.Mutex
	freeArea    []freeArea
	freePages   uint64
	lowOnMemory bool

	memMap []Page
}

func (z *Zone) Name() string {
	return z.name
}

func (z *Zone) Class() ZoneClass {
	return z.class
}

func (z *Zone) Size() uint32 {
	return z.size
}

func (z *Zone) Offset() uint32 {
	return z.offset
}

// Watermarks returns the low, mid and high free page thresholds.  All are
// zero for a zone that is not balanced.
func (z *Zone) Watermarks() (low, mid, high uint64) {
	return z.pagesLow, z.pagesMid, z.pagesHigh
}

// Balanced reports whether watermarks apply to this zone.
func (z *Zone) Balanced() bool {
	return z.balanced
}

func (z *Zone) FreePages() uint64 {
	z.lock.Lock()
	defer z.lock.Unlock()
	return z.freePages
}

// LowOnMemory reports the state of the hysteresis latch.
func (z *Zone) LowOnMemory() bool {
	z.lock.Lock()
	defer z.lock.Unlock()
	return z.lowOnMemory
}

func (z *Zone) maxOrder() uint {
	return uint(len(z.freeArea))
}

// page returns the descriptor at zone relative index idx.
func (z *Zone) page(idx uint64) *Page {
	return &z.memMap[uint64(z.offset)+idx]
}

func (z *Zone) badRange(p *Page) bool {
	return p.pfn < z.offset || p.pfn >= z.offset+z.size
}

func (z *Zone) link(pfn int32) *PageLink {
	return &z.memMap[pfn].link
}
