package joy

import (
	"sync/atomic"
)

// PageFlags are the bits kept in Page.flags.
type PageFlags uint32

const (
	PageReserved PageFlags = 1 << iota
	PageLocked
	PageSwapCache
	PageDMA
	// PageMapped means the page is permanently mapped and vaddr is valid.
	PageMapped
)

// Page is the descriptor of one physical page.  The page table is carved out
// of boot memory so a Page must never hold a Go pointer: the zone is an index
// and list links are page frame numbers.
type Page struct {
	flags atomic.Uint32
	count atomic.Int32
	link  PageLink
	pfn   uint32
	zone  uint8
	vaddr uint64 // byte offset into physical memory when PageMapped
}

func (p *Page) PFN() uint32 {
	return p.pfn
}

// ZoneClass is the class of the zone the page belongs to.
func (p *Page) ZoneClass() ZoneClass {
	return ZoneClass(p.zone)
}

func (p *Page) Count() int32 {
	return p.count.Load()
}

func (p *Page) Flags() PageFlags {
	return PageFlags(p.flags.Load())
}

func (p *Page) test(f PageFlags) bool {
	return PageFlags(p.flags.Load())&f != 0
}

func (p *Page) set(f PageFlags) {
	for {
		old := p.flags.Load()
		if p.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (p *Page) clear(f PageFlags) {
	for {
		old := p.flags.Load()
		if p.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

func (p *Page) Reserved() bool {
	return p.test(PageReserved)
}

func (p *Page) Locked() bool {
	return p.test(PageLocked)
}

func (p *Page) InSwapCache() bool {
	return p.test(PageSwapCache)
}

func (p *Page) DMA() bool {
	return p.test(PageDMA)
}

// TryLock sets the page lock and reports whether it was clear before.
func (p *Page) TryLock() bool {
	for {
		old := p.flags.Load()
		if old&uint32(PageLocked) != 0 {
			return false
		}
		if p.flags.CompareAndSwap(old, old|uint32(PageLocked)) {
			return true
		}
	}
}

func (p *Page) Unlock() {
	if !p.test(PageLocked) {
		bug(ErrorMemoryBadPageRequest, "page %d: unlock of unlocked page", p.pfn)
	}
	p.clear(PageLocked)
}

// SetSwapCache and ClearSwapCache are used by the page cache owner.  A page
// must leave the swap cache before it is freed.
func (p *Page) SetSwapCache() {
	p.set(PageSwapCache)
}

func (p *Page) ClearSwapCache() {
	p.clear(PageSwapCache)
}

// Get takes another reference to an allocated page.
func (p *Page) Get() {
	if p.count.Add(1) <= 1 {
		bug(ErrorMemoryAlreadyFree, "page %d: reference taken on a free page", p.pfn)
	}
}

// putTestZero drops a reference and reports whether it was the last one.
func (p *Page) putTestZero() bool {
	c := p.count.Add(-1)
	if c < 0 {
		bug(ErrorMemoryAlreadyFree, "page %d: freeing a page that is already free", p.pfn)
	}
	return c == 0
}

func (p *Page) reset(pfn uint32, zone ZoneClass) {
	p.flags.Store(uint32(PageReserved))
	p.count.Store(0)
	p.link.Reset()
	p.pfn = pfn
	p.zone = uint8(zone)
	p.vaddr = 0
}
