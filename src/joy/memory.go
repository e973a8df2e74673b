package joy

import (
	"io"
	"sync/atomic"
	"unsafe"

	"pagezone/src/lib/trust"
	"pagezone/src/lib/upbeat"
)

// KMemDef is the page allocator as seen by the rest of the kernel.
type KMemDef interface {
	AllocPages(f *Family, gfp GFP, order uint) (*Page, JoyError)
	FreePages(p *Page, order uint)
	GetFreePages(f *Family, gfp GFP, order uint) ([]byte, JoyError)
	FreePagesAddr(b []byte, order uint)
	NrFreePages() uint64
	ShowFreeAreas(w io.Writer)
}

var _ KMemDef = (*MemSystem)(nil)

// MemSystem owns the page table, the zones and their zonelists.  It is built
// once by FreeAreaInit; afterwards only counters, free lists and bitmaps
// change.
type MemSystem struct {
	params upbeat.BootParams
	memMap []Page
	zones  [NumZones]Zone

	zonelists [NumGFPIndex]Zonelist

	freepagesMin  uint64
	freepagesLow  uint64
	freepagesHigh uint64

	bootmem  *upbeat.BootMem
	phys     *upbeat.PhysMem
	released bool

	reclaim Reclaimer
	retry   RetryPolicy
}

var kmem atomic.Pointer[MemSystem]

// KMemInit boots the memory subsystem of the running kernel and publishes
// it through KMem.  It may only succeed once.
func KMemInit(params upbeat.BootParams, r Reclaimer) (*MemSystem, JoyError) {
	if kmem.Load() != nil {
		return nil, MakeError(nil, ErrorMemoryAlreadyInitialized)
	}
	m, err := FreeAreaInit(params, nil)
	if err != JoyNoError {
		return nil, err
	}
	if r != nil {
		m.SetReclaimer(r)
	}
	if !kmem.CompareAndSwap(nil, m) {
		m.Close()
		return nil, MakeError(nil, ErrorMemoryAlreadyInitialized)
	}
	m.ReleaseBootPages()
	return m, JoyNoError
}

// KMem returns the memory subsystem published by KMemInit, or nil.
func KMem() *MemSystem {
	return kmem.Load()
}

// BootMemNeeded is the amount of boot memory FreeAreaInit uses for params.
func BootMemNeeded(params upbeat.BootParams) uintptr {
	n := uintptr(params.TotalPages()) * unsafe.Sizeof(Page{})
	for _, size := range params.ZoneSizes {
		if size == 0 {
			continue
		}
		for order := uint(0); order < params.MaxOrder; order++ {
			n += uintptr(bitmapWords(size, order)) * 8
		}
	}
	return n
}

// one bit per buddy pair, rounded up to a whole word
func bitmapWords(size uint64, order uint) int {
	pairSize := uint64(1) << (order + 1)
	return upbeat.BuddyMapWords((size + pairSize - 1) / pairSize)
}

// freepagesTarget derives the global free page target from the number of
// present pages: 1/128th of memory, at least 10 and at most 256 pages.
func freepagesTarget(present uint64) uint64 {
	i := present >> 7
	if i < 10 {
		i = 10
	}
	if i > 256 {
		i = 256
	}
	return i
}

// FreeAreaInit partitions the page table into zones, gives every zone its
// free area bitmaps and builds the zonelists.  Every page starts reserved;
// ReleaseBootPages hands them to the allocator.  bm may be nil, in which
// case a boot allocator of the right size is made.
func FreeAreaInit(params upbeat.BootParams, bm *upbeat.BootMem) (*MemSystem, JoyError) {
	if err := params.Validate(); err != nil {
		trust.Errorf("free_area_init: %v", err)
		return nil, MakeError(nil, ErrorMemoryBadBootParams)
	}
	if bm == nil {
		bm = upbeat.NewBootMem(BootMemNeeded(params))
	}
	total := params.TotalPages()

	m := &MemSystem{
		params:  params,
		bootmem: bm,
		reclaim: NoReclaim,
		retry:   YieldRetry{},
	}

	ptr := bm.Alloc(uintptr(total) * unsafe.Sizeof(Page{}))
	if ptr == nil {
		return nil, MakeError(nil, ErrorMemoryBootmemExhausted)
	}
	m.memMap = unsafe.Slice((*Page)(ptr), total)

	phys, err := upbeat.NewPhysMem(total, params.PageSize)
	if err != nil {
		trust.Errorf("free_area_init: %v", err)
		return nil, MakeError(nil, ErrorMemoryNotMapped)
	}
	m.phys = phys

	target := freepagesTarget(params.PresentPages())
	m.freepagesMin, m.freepagesLow, m.freepagesHigh = target, target*2, target*3
	trust.Debugf("free_area_init: %d pages (%d present), freepages min %d low %d high %d",
		total, params.PresentPages(), m.freepagesMin, m.freepagesLow, m.freepagesHigh)

	offset := uint32(0)
	for c := ZoneDMA; c < NumZones; c++ {
		z := &m.zones[c]
		size := params.ZoneSizes[c]
		z.name = c.String()
		z.class = c
		z.offset = offset
		z.size = uint32(size)
		z.holes = uint32(params.ZoneHoles[c])
		z.memMap = m.memMap
		z.balanced = c != ZoneHighMem || params.BalanceHighMem
		if z.balanced {
			z.pagesLow, z.pagesMid, z.pagesHigh = m.freepagesMin, m.freepagesLow, m.freepagesHigh
		}

		for i := uint32(0); i < z.size; i++ {
			p := &m.memMap[offset+i]
			p.reset(offset+i, c)
			if c == ZoneDMA {
				p.set(PageDMA)
			}
			if c != ZoneHighMem {
				p.vaddr = uint64(offset+i) * params.PageSize
				p.set(PageMapped)
			}
		}
		offset += z.size

		trust.Infof("zone %s: %d pages at pfn %d (%d holes)", z.name, z.size, z.offset, z.holes)
		if size == 0 {
			continue
		}
		z.freeArea = make([]freeArea, params.MaxOrder)
		for order := uint(0); order < params.MaxOrder; order++ {
			words := bitmapWords(size, order)
			bits := bm.AllocWords(words)
			if bits == nil {
				m.phys.Close()
				return nil, MakeError(nil, ErrorMemoryBootmemExhausted)
			}
			area := &z.freeArea[order]
			area.list = NewPageList(z.link)
			area.buddies = upbeat.NewBuddyMap(uint64(words)<<6, bits)
		}
	}

	buildZonelists(&m.zones, &m.zonelists)
	return m, JoyNoError
}

// ReleaseBootRange hands n boot reserved pages starting at pfn to the
// allocator.  Pages must not already be released.
func (m *MemSystem) ReleaseBootRange(pfn uint32, n uint32) JoyError {
	if uint64(pfn)+uint64(n) > uint64(len(m.memMap)) {
		return MakeError(nil, ErrorMemoryBadPageRequest)
	}
	for i := pfn; i < pfn+n; i++ {
		p := &m.memMap[i]
		if !p.Reserved() {
			return MakeError(nil, ErrorMemoryAlreadyFree)
		}
		p.clear(PageReserved)
		p.count.Store(1)
		m.FreePages(p, 0)
	}
	return JoyNoError
}

// ReleaseBootPages ends the boot phase: every page that is not a hole is
// given to the allocator and the boot allocator is retired.  Holes are the
// last pages of their zone and stay reserved forever.
func (m *MemSystem) ReleaseBootPages() {
	if m.released {
		bug(ErrorMemoryAlreadyInitialized, "boot pages released twice")
	}
	m.released = true
	for c := range m.zones {
		z := &m.zones[c]
		if err := m.ReleaseBootRange(z.offset, z.size-z.holes); err != JoyNoError {
			bug(ErrorMemoryCorrupted, "zone %s: unable to release boot pages: %v", z.name, err)
		}
	}
	m.bootmem.Retire()
	trust.Infof("memory: %dk available", m.NrFreePages()*m.params.PageKB())
}

// SetReclaimer and SetRetryPolicy must be called before the system is
// shared between families.
func (m *MemSystem) SetReclaimer(r Reclaimer) {
	m.reclaim = r
}

func (m *MemSystem) SetRetryPolicy(r RetryPolicy) {
	m.retry = r
}

// SetZoneWatermarks overrides the boot derived watermarks of a zone.  A zone
// with all three at zero is not balanced.
func (m *MemSystem) SetZoneWatermarks(c ZoneClass, low, mid, high uint64) {
	if low > mid || mid > high {
		bug(ErrorMemoryBadPageRequest, "zone %s: watermarks %d/%d/%d not ordered", c, low, mid, high)
	}
	z := &m.zones[c]
	z.lock.Lock()
	z.pagesLow, z.pagesMid, z.pagesHigh = low, mid, high
	z.balanced = high != 0
	z.lock.Unlock()
}

func (m *MemSystem) Params() upbeat.BootParams {
	return m.params
}

func (m *MemSystem) MaxOrder() uint {
	return m.params.MaxOrder
}

func (m *MemSystem) Zone(c ZoneClass) *Zone {
	return &m.zones[c]
}

func (m *MemSystem) Zonelist(gfp GFP) *Zonelist {
	return &m.zonelists[gfp&(NumGFPIndex-1)]
}

// PageAt returns the descriptor of pfn or nil.
func (m *MemSystem) PageAt(pfn uint32) *Page {
	if int(pfn) >= len(m.memMap) {
		return nil
	}
	return &m.memMap[pfn]
}

func (m *MemSystem) PageZone(p *Page) *Zone {
	return &m.zones[p.zone]
}

// AllocPages returns 1<<order contiguous pages with a reference count of one.
// It fails only when gfp does not allow blocking.
func (m *MemSystem) AllocPages(f *Family, gfp GFP, order uint) (*Page, JoyError) {
	if f == nil {
		bug(ErrorMemoryBadPageRequest, "allocation without a family")
	}
	if order >= m.params.MaxOrder {
		bug(ErrorMemoryBadPageRequest, "family %d: order %d allocation, max order is %d",
			f.Id, order, m.params.MaxOrder)
	}
	if gfp >= NumGFPIndex {
		bug(ErrorMemoryBadPageRequest, "family %d: bad gfp mask %x", f.Id, uint32(gfp))
	}
	if gfp.canBlock() && f.InAtomic() {
		bug(ErrorFamilyAtomicSleep, "family %d (%s): blocking allocation (%s) in atomic context",
			f.Id, f.name, gfp)
	}
	p := m.allocPages(f, &m.zonelists[gfp], order)
	if p == nil {
		return nil, MakeError(f, ErrorMemoryPageNotAvailable)
	}
	return p, JoyNoError
}

func (m *MemSystem) AllocPage(f *Family, gfp GFP) (*Page, JoyError) {
	return m.AllocPages(f, gfp, 0)
}

// FreePages drops a reference to a block obtained from AllocPages with the
// same order and frees it when that was the last one.  Reserved pages are
// left alone.
func (m *MemSystem) FreePages(p *Page, order uint) {
	if p == nil {
		bug(ErrorMemoryBadPageRequest, "free of nil page")
	}
	if p.Reserved() {
		return
	}
	if p.putTestZero() {
		m.freePagesOk(p, order)
	}
}

func (m *MemSystem) FreePage(p *Page) {
	m.FreePages(p, 0)
}

func (m *MemSystem) freePagesOk(p *Page, order uint) {
	if order >= m.params.MaxOrder {
		bug(ErrorMemoryBadPageRequest, "page %d: free at order %d, max order is %d",
			p.pfn, order, m.params.MaxOrder)
	}
	if int(p.pfn) >= len(m.memMap) || &m.memMap[p.pfn] != p {
		bug(ErrorMemoryBadPageRequest, "page %d is not in the page table", p.pfn)
	}
	if p.InSwapCache() {
		bug(ErrorMemoryPageAlreadyInUse, "page %d: freeing a page in the swap cache", p.pfn)
	}
	if p.Locked() {
		bug(ErrorMemoryPageAlreadyInUse, "page %d: freeing a locked page", p.pfn)
	}
	z := &m.zones[p.zone]
	if z.badRange(p) {
		bug(ErrorMemoryCorrupted, "page %d claims zone %s but is outside it", p.pfn, z.name)
	}
	z.freeBlock(p, order)
}

// PageAddress returns the bytes of a block of the given order, or nil if the
// block is in high memory and so not permanently mapped.
func (m *MemSystem) PageAddress(p *Page, order uint) []byte {
	if p.Flags()&PageMapped == 0 {
		return nil
	}
	return m.phys.Pages(p.vaddr/m.params.PageSize, uint64(1)<<order)
}

// GetFreePages is AllocPages for callers that want the memory rather than
// the descriptor.  High memory has no permanent mapping, so gfp may not ask
// for it.
func (m *MemSystem) GetFreePages(f *Family, gfp GFP, order uint) ([]byte, JoyError) {
	if gfp&GFPHighMem != 0 {
		bug(ErrorMemoryNotMapped, "family %d: get_free_pages with %s", f.Id, gfp)
	}
	p, err := m.AllocPages(f, gfp, order)
	if err != JoyNoError {
		return nil, err
	}
	return m.PageAddress(p, order), JoyNoError
}

// GetZeroedPage returns one cleared page.
func (m *MemSystem) GetZeroedPage(f *Family, gfp GFP) ([]byte, JoyError) {
	b, err := m.GetFreePages(f, gfp, 0)
	if err != JoyNoError {
		return nil, err
	}
	for i := range b {
		b[i] = 0
	}
	return b, JoyNoError
}

// FreePagesAddr frees memory returned by GetFreePages.  An empty slice is
// ignored.
func (m *MemSystem) FreePagesAddr(b []byte, order uint) {
	if len(b) == 0 {
		return
	}
	pfn, ok := m.phys.PFN(b)
	if !ok {
		bug(ErrorMemoryBadPageRequest, "free of memory that is not a page")
	}
	m.FreePages(&m.memMap[pfn], order)
}

// NrFreePages is the number of free pages in all zones.
func (m *MemSystem) NrFreePages() uint64 {
	n := uint64(0)
	for c := range m.zones {
		n += m.zones[c].FreePages()
	}
	return n
}

func (m *MemSystem) NrFreeHighPages() uint64 {
	return m.zones[ZoneHighMem].FreePages()
}

// MemInfo is a summary of memory in pages.
type MemInfo struct {
	PageSize      uint64
	TotalPages    uint64
	PresentPages  uint64
	FreePages     uint64
	HighPages     uint64
	FreeHighPages uint64
	BootmemBytes  uintptr
}

func (m *MemSystem) MemInfo() MemInfo {
	return MemInfo{
		PageSize:      m.params.PageSize,
		TotalPages:    m.params.TotalPages(),
		PresentPages:  m.params.PresentPages(),
		FreePages:     m.NrFreePages(),
		HighPages:     uint64(m.zones[ZoneHighMem].size - m.zones[ZoneHighMem].holes),
		FreeHighPages: m.NrFreeHighPages(),
		BootmemBytes:  m.bootmem.Used(),
	}
}

// Close releases the physical memory backing the system.  No page may be
// used afterwards.
func (m *MemSystem) Close() error {
	return m.phys.Close()
}
