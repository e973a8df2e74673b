package joy

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"

	"pagezone/src/lib/trust"
	"pagezone/src/lib/upbeat"
)

func TestMain(m *testing.M) {
	trust.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// smallParams is a machine with 4K pages and blocks of at most 8 pages.
func smallParams(sizes ...uint64) upbeat.BootParams {
	p := upbeat.BootParams{PageSize: 4096, MaxOrder: 4}
	copy(p.ZoneSizes[:], sizes)
	return p
}

func newTestSystem(t *testing.T, p upbeat.BootParams) *MemSystem {
	t.Helper()
	m, err := FreeAreaInit(p, nil)
	if err != JoyNoError {
		t.Fatalf("free area init failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	m.ReleaseBootPages()
	return m
}

// expectBug runs fn and checks that it panics with a kernel bug of the
// given kind.
func expectBug(t *testing.T, raw RawJoyError, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		b, ok := r.(*Bug)
		if !ok {
			t.Fatalf("expected a kernel bug, got %v", r)
		}
		if !b.Code.Is(raw) {
			t.Errorf("bug %q has code %x, expected %x", b.Msg, uint64(b.Code), uint64(raw))
		}
	}()
	fn()
}

func mustAlloc(t *testing.T, m *MemSystem, f *Family, gfp GFP, order uint) *Page {
	t.Helper()
	p, err := m.AllocPages(f, gfp, order)
	if err != JoyNoError {
		t.Fatalf("order %d allocation (%s) failed: %v", order, gfp, err)
	}
	if p.Count() != 1 {
		t.Errorf("allocated page %d has count %d", p.PFN(), p.Count())
	}
	return p
}

func checkVerify(t *testing.T, m *MemSystem) {
	t.Helper()
	if err := m.Verify(); err != JoyNoError {
		t.Errorf("free area bookkeeping is inconsistent: %v", err)
	}
}

func sameBlocks(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBootRelease(t *testing.T) {
	m := newTestSystem(t, smallParams(16, 32))
	snap := m.Snapshot()
	if !sameBlocks(snap[ZoneDMA].Blocks, []int{0, 0, 0, 2}) {
		t.Errorf("DMA blocks after boot: %v", snap[ZoneDMA].Blocks)
	}
	if !sameBlocks(snap[ZoneNormal].Blocks, []int{0, 0, 0, 4}) {
		t.Errorf("Normal blocks after boot: %v", snap[ZoneNormal].Blocks)
	}
	if len(snap[ZoneHighMem].Blocks) != 0 || snap[ZoneHighMem].FreePages != 0 {
		t.Errorf("empty HighMem zone has free areas")
	}
	if m.NrFreePages() != 48 {
		t.Errorf("expected 48 free pages, got %d", m.NrFreePages())
	}
	for pfn := uint32(0); pfn < 48; pfn++ {
		p := m.PageAt(pfn)
		if p.Reserved() || p.Count() != 0 {
			t.Errorf("page %d not released", pfn)
		}
		if p.DMA() != (pfn < 16) {
			t.Errorf("page %d has wrong DMA flag", pfn)
		}
		if m.PageZone(p).Class() != p.ZoneClass() {
			t.Errorf("page %d zone mismatch", pfn)
		}
	}
	if m.PageAt(48) != nil {
		t.Errorf("page past the end of memory")
	}
	if z := m.Zone(ZoneNormal); z.Offset() != 16 || z.Size() != 32 {
		t.Errorf("Normal zone at %d size %d", z.Offset(), z.Size())
	}
	checkVerify(t, m)
}

func TestBadBootParams(t *testing.T) {
	for _, p := range []upbeat.BootParams{
		smallParams(0, 16),
		{PageSize: 4096, MaxOrder: 0, ZoneSizes: [3]uint64{8}},
		{PageSize: 3000, MaxOrder: 4, ZoneSizes: [3]uint64{8}},
		{PageSize: 4096, MaxOrder: 4, ZoneSizes: [3]uint64{8}, ZoneHoles: [3]uint64{9}},
	} {
		m, err := FreeAreaInit(p, nil)
		if m != nil || !err.Is(ErrorMemoryBadBootParams) {
			t.Errorf("boot params %+v accepted", p)
		}
	}
}

func TestBootmemExhausted(t *testing.T) {
	p := smallParams(8)
	bm := upbeat.NewBootMem(BootMemNeeded(p) - 8)
	m, err := FreeAreaInit(p, bm)
	if m != nil || !err.Is(ErrorMemoryBootmemExhausted) {
		t.Errorf("expected bootmem exhaustion, got %v", err)
	}

	bm = upbeat.NewBootMem(BootMemNeeded(p))
	m, err = FreeAreaInit(p, bm)
	if err != JoyNoError {
		t.Fatalf("exact bootmem refused: %v", err)
	}
	defer m.Close()
	if bm.Used() != bm.Size() {
		t.Errorf("bootmem used %d of %d", bm.Used(), bm.Size())
	}
	m.ReleaseBootPages()
	if bm.Alloc(8) != nil {
		t.Errorf("bootmem still usable after release")
	}
}

func TestWatermarks(t *testing.T) {
	for _, c := range []struct {
		sizes   []uint64
		holes   [3]uint64
		balance bool
		low     uint64
		highmem uint64
	}{
		{sizes: []uint64{8}, low: 10},
		{sizes: []uint64{2048}, low: 16},
		{sizes: []uint64{2048, 1024}, holes: [3]uint64{0, 1024 - 128}, low: 17},
		{sizes: []uint64{4096, 28672}, low: 256},
		{sizes: []uint64{4096, 61440}, low: 256},
		{sizes: []uint64{16, 16, 16}, low: 10},
		{sizes: []uint64{16, 16, 16}, balance: true, low: 10, highmem: 10},
	} {
		p := smallParams(c.sizes...)
		p.PageSize = 1024
		p.ZoneHoles = c.holes
		p.BalanceHighMem = c.balance
		m, err := FreeAreaInit(p, nil)
		if err != JoyNoError {
			t.Fatalf("free area init of %v failed: %v", c.sizes, err)
		}
		for zc := ZoneDMA; zc < NumZones; zc++ {
			want := c.low
			if zc == ZoneHighMem {
				want = c.highmem
			}
			low, mid, high := m.Zone(zc).Watermarks()
			if low != want || mid != 2*want || high != 3*want {
				t.Errorf("%v zone %s: watermarks %d/%d/%d, expected low %d",
					c.sizes, zc, low, mid, high, want)
			}
			if m.Zone(zc).Balanced() != (want != 0) {
				t.Errorf("%v zone %s: balanced is %v", c.sizes, zc, m.Zone(zc).Balanced())
			}
		}
		m.Close()
	}
}

func TestHoles(t *testing.T) {
	p := smallParams(16)
	p.ZoneHoles[ZoneDMA] = 4
	m := newTestSystem(t, p)
	if m.NrFreePages() != 12 {
		t.Errorf("expected 12 free pages, got %d", m.NrFreePages())
	}
	if b := m.Snapshot()[ZoneDMA].Blocks; !sameBlocks(b, []int{0, 0, 1, 1}) {
		t.Errorf("blocks with holes: %v", b)
	}
	hole := m.PageAt(12)
	if !hole.Reserved() {
		t.Fatalf("hole page was released")
	}
	m.FreePage(hole)
	if m.NrFreePages() != 12 || hole.Count() != 0 {
		t.Errorf("freeing a reserved page changed the allocator")
	}
	info := m.MemInfo()
	if info.TotalPages != 16 || info.PresentPages != 12 || info.FreePages != 12 {
		t.Errorf("meminfo: %+v", info)
	}
	checkVerify(t, m)
}

func TestReleaseBootRangeTwice(t *testing.T) {
	m := newTestSystem(t, smallParams(8))
	if err := m.ReleaseBootRange(0, 1); !err.Is(ErrorMemoryAlreadyFree) {
		t.Errorf("page released twice: %v", err)
	}
	if err := m.ReleaseBootRange(6, 4); !err.Is(ErrorMemoryBadPageRequest) {
		t.Errorf("range past the end released: %v", err)
	}
	expectBug(t, ErrorMemoryAlreadyInitialized, func() { m.ReleaseBootPages() })
}

func TestContractViolations(t *testing.T) {
	m := newTestSystem(t, smallParams(8))
	f := NewFamily("test")

	expectBug(t, ErrorMemoryBadPageRequest, func() { m.AllocPages(f, GFPAtomic, 4) })
	expectBug(t, ErrorMemoryBadPageRequest, func() { m.AllocPages(nil, GFPAtomic, 0) })
	expectBug(t, ErrorMemoryBadPageRequest, func() { m.AllocPages(f, GFP(0x100), 0) })
	expectBug(t, ErrorMemoryNotMapped, func() { m.GetFreePages(f, GFPHighMem, 0) })

	f.ProhibitPreemption()
	expectBug(t, ErrorFamilyAtomicSleep, func() { m.AllocPage(f, GFPKernel) })
	p := mustAlloc(t, m, f, GFPAtomic, 0)
	f.PermitPreemption()
	expectBug(t, ErrorFamilyPreemptUnderflow, func() { f.PermitPreemption() })

	// order 0 page at an odd index freed as an order 1 block
	if p.PFN()&1 == 0 {
		t.Fatalf("expected the first page from the top of a block, got %d", p.PFN())
	}
	expectBug(t, ErrorMemoryBadPageRequest, func() { m.FreePages(p, 1) })
}

func TestFreeChecks(t *testing.T) {
	m := newTestSystem(t, smallParams(8))
	f := NewFamily("test")

	p := mustAlloc(t, m, f, GFPAtomic, 0)
	m.FreePage(p)
	expectBug(t, ErrorMemoryAlreadyFree, func() { m.FreePage(p) })

	m = newTestSystem(t, smallParams(8))
	p = mustAlloc(t, m, f, GFPAtomic, 0)
	if !p.TryLock() || p.TryLock() {
		t.Errorf("page lock broken")
	}
	expectBug(t, ErrorMemoryPageAlreadyInUse, func() { m.FreePage(p) })

	m = newTestSystem(t, smallParams(8))
	p = mustAlloc(t, m, f, GFPAtomic, 0)
	p.SetSwapCache()
	expectBug(t, ErrorMemoryPageAlreadyInUse, func() { m.FreePage(p) })

	m = newTestSystem(t, smallParams(8))
	expectBug(t, ErrorMemoryAlreadyFree, func() { m.PageAt(0).Get() })
	expectBug(t, ErrorMemoryBadPageRequest, func() { m.PageAt(0).Unlock() })
}

func TestReferenceCount(t *testing.T) {
	m := newTestSystem(t, smallParams(8))
	f := NewFamily("test")
	p := mustAlloc(t, m, f, GFPAtomic, 2)
	p.Get()
	m.FreePages(p, 2)
	if m.NrFreePages() != 4 || p.Count() != 1 {
		t.Errorf("shared block freed early")
	}
	m.FreePages(p, 2)
	if m.NrFreePages() != 8 {
		t.Errorf("block not freed after last reference")
	}
	checkVerify(t, m)
}

func TestGetFreePages(t *testing.T) {
	m := newTestSystem(t, smallParams(8, 0, 8))
	f := NewFamily("test")

	b, err := m.GetFreePages(f, GFPAtomic, 1)
	if err != JoyNoError {
		t.Fatalf("get free pages failed: %v", err)
	}
	if len(b) != 2*4096 {
		t.Errorf("expected 8192 bytes, got %d", len(b))
	}
	for i := range b {
		b[i] = 0xff
	}
	if m.NrFreePages() != 14 {
		t.Errorf("expected 14 free pages, got %d", m.NrFreePages())
	}
	m.FreePagesAddr(b, 1)
	m.FreePagesAddr(nil, 0)
	if m.NrFreePages() != 16 {
		t.Errorf("expected 16 free pages, got %d", m.NrFreePages())
	}

	z, err := m.GetZeroedPage(f, GFPAtomic)
	if err != JoyNoError {
		t.Fatalf("get zeroed page failed: %v", err)
	}
	if !bytes.Equal(z, make([]byte, 4096)) {
		t.Errorf("zeroed page is not zero")
	}
	expectBug(t, ErrorMemoryBadPageRequest, func() { m.FreePagesAddr(z[1:], 0) })
	m.FreePagesAddr(z, 0)

	hp := mustAlloc(t, m, f, GFPHighMem, 0)
	if hp.ZoneClass() != ZoneHighMem {
		t.Errorf("highmem request served from %s", hp.ZoneClass())
	}
	if m.PageAddress(hp, 0) != nil {
		t.Errorf("high memory page has a permanent mapping")
	}
	if m.NrFreeHighPages() != 7 {
		t.Errorf("expected 7 free high pages, got %d", m.NrFreeHighPages())
	}
	m.FreePage(hp)
	checkVerify(t, m)
}

func TestShowFreeAreas(t *testing.T) {
	m := newTestSystem(t, smallParams(8, 16))
	f := NewFamily("test")
	mustAlloc(t, m, f, GFPAtomic, 0)

	var buf bytes.Buffer
	m.ShowFreeAreas(&buf)
	out := buf.String()
	for _, want := range []string{
		"Free pages:          92kB (     0kB HighMem)",
		"Zone:Normal freepages:    60kB min:    40kB low:    80kB high:   120kB",
		"DMA: 0*4kB 0*8kB 0*16kB 1*32kB = 32kB)",
		"Normal: 1*4kB 1*8kB 1*16kB 1*32kB = 60kB)",
		"HighMem: empty",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("free area dump is missing %q:\n%s", want, out)
		}
	}

	frag := m.Snapshot()[ZoneNormal].Fragmentation()
	if frag.Blocks != 4 || frag.MinOrder != 0 || frag.MaxOrder != 3 {
		t.Errorf("fragmentation: %+v", frag)
	}
	// 1*0 + 2*1 + 4*2 + 8*3 over 15 pages
	if frag.MeanOrder < 2.266 || frag.MeanOrder > 2.267 {
		t.Errorf("mean order %f", frag.MeanOrder)
	}
}

func TestVerifyFindsCorruption(t *testing.T) {
	m := newTestSystem(t, smallParams(8))
	z := m.Zone(ZoneDMA)
	z.lock.Lock()
	z.freePages++
	z.lock.Unlock()
	if err := m.Verify(); !err.Is(ErrorMemoryCorrupted) {
		t.Errorf("bad free count not found: %v", err)
	}
	z.lock.Lock()
	z.freePages--
	z.freeArea[0].buddies.Toggle(0)
	z.lock.Unlock()
	if err := m.Verify(); !err.Is(ErrorMemoryCorrupted) {
		t.Errorf("bad parity not found: %v", err)
	}
}

func TestKMemInit(t *testing.T) {
	m, err := KMemInit(smallParams(8), nil)
	if err != JoyNoError {
		t.Fatalf("kmem init failed: %v", err)
	}
	defer m.Close()
	if KMem() != m {
		t.Errorf("kmem not published")
	}
	if m.NrFreePages() != 8 {
		t.Errorf("kmem boot pages not released")
	}
	if _, err := KMemInit(smallParams(8), nil); !err.Is(ErrorMemoryAlreadyInitialized) {
		t.Errorf("second kmem init: %v", err)
	}
}

// Families on several goroutines allocate and free blocks of mixed orders.
// Once everything is returned the zones must be whole again.
func TestConcurrentAllocFree(t *testing.T) {
	p := smallParams(64, 192)
	p.MaxOrder = 5
	m := newTestSystem(t, p)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			f := NewFamily("stress")
			r := rand.New(rand.NewSource(seed))
			type block struct {
				p     *Page
				order uint
			}
			var held []block
			for i := 0; i < 500; i++ {
				if len(held) > 0 && r.Intn(2) == 0 {
					k := r.Intn(len(held))
					m.FreePages(held[k].p, held[k].order)
					held[k] = held[len(held)-1]
					held = held[:len(held)-1]
					continue
				}
				order := uint(r.Intn(3))
				pg, err := m.AllocPages(f, GFPAtomic, order)
				if err != JoyNoError {
					continue
				}
				held = append(held, block{pg, order})
			}
			for _, b := range held {
				m.FreePages(b.p, b.order)
			}
		}(int64(g))
	}
	wg.Wait()

	checkVerify(t, m)
	snap := m.Snapshot()
	if !sameBlocks(snap[ZoneDMA].Blocks, []int{0, 0, 0, 0, 4}) {
		t.Errorf("DMA did not coalesce: %v", snap[ZoneDMA].Blocks)
	}
	if !sameBlocks(snap[ZoneNormal].Blocks, []int{0, 0, 0, 0, 12}) {
		t.Errorf("Normal did not coalesce: %v", snap[ZoneNormal].Blocks)
	}
}
