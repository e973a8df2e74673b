package joy

import (
	"fmt"
	"io"
	"math"

	"github.com/aclements/go-moremath/stats"

	"pagezone/src/lib/trust"
	"pagezone/src/lib/upbeat"
)

// ZoneSnapshot is a consistent copy of the free area state of one zone.
type ZoneSnapshot struct {
	Class       ZoneClass
	Name        string
	Size        uint32
	FreePages   uint64
	LowOnMemory bool
	Low         uint64
	Mid         uint64
	High        uint64
	// Blocks[k] is the number of free blocks of order k.
	Blocks []int
}

// Snapshot copies the free area state of every zone.  Each zone is copied
// under its own lock; zones are not frozen together.
func (m *MemSystem) Snapshot() [NumZones]ZoneSnapshot {
	var result [NumZones]ZoneSnapshot
	for c := range m.zones {
		z := &m.zones[c]
		z.lock.Lock()
		s := ZoneSnapshot{
			Class:       z.class,
			Name:        z.name,
			Size:        z.size,
			FreePages:   z.freePages,
			LowOnMemory: z.lowOnMemory,
			Low:         z.pagesLow,
			Mid:         z.pagesMid,
			High:        z.pagesHigh,
			Blocks:      make([]int, len(z.freeArea)),
		}
		for order := range z.freeArea {
			s.Blocks[order] = z.freeArea[order].list.Length()
		}
		z.lock.Unlock()
		result[c] = s
	}
	return result
}

// FragStats summarises how the free memory of a zone is broken up.  Orders
// are weighted by the pages free at that order.
type FragStats struct {
	MeanOrder float64
	MinOrder  float64
	MaxOrder  float64
	Blocks    int
}

// Fragmentation returns the free block statistics of a zone snapshot.  All
// orders are NaN when nothing is free.
func (s ZoneSnapshot) Fragmentation() FragStats {
	sample := stats.Sample{
		Xs:      make([]float64, len(s.Blocks)),
		Weights: make([]float64, len(s.Blocks)),
		Sorted:  true,
	}
	blocks := 0
	for order, n := range s.Blocks {
		sample.Xs[order] = float64(order)
		sample.Weights[order] = float64(uint64(n) << uint(order))
		blocks += n
	}
	if blocks == 0 {
		return FragStats{MeanOrder: math.NaN(), MinOrder: math.NaN(), MaxOrder: math.NaN()}
	}
	lo, hi := sample.Bounds()
	return FragStats{
		MeanOrder: sample.Mean(),
		MinOrder:  lo,
		MaxOrder:  hi,
		Blocks:    blocks,
	}
}

// ShowFreeAreas writes a human readable dump of the free areas to w and
// the fragmentation summary of each zone to the stats log.
func (m *MemSystem) ShowFreeAreas(w io.Writer) {
	kb := m.params.PageKB()
	fmt.Fprintf(w, "Free pages:      %6dkB (%6dkB HighMem)\n",
		m.NrFreePages()*kb, m.NrFreeHighPages()*kb)

	snap := m.Snapshot()
	for _, s := range snap {
		fmt.Fprintf(w, "Zone:%s freepages:%6dkB min:%6dkB low:%6dkB high:%6dkB\n",
			s.Name, s.FreePages*kb, s.Low*kb, s.Mid*kb, s.High*kb)
	}
	for _, s := range snap {
		fmt.Fprintf(w, "%s: ", s.Name)
		if len(s.Blocks) == 0 {
			fmt.Fprintf(w, "empty\n")
			continue
		}
		total := uint64(0)
		for order, n := range s.Blocks {
			total += uint64(n) << uint(order)
			fmt.Fprintf(w, "%d*%dkB ", n, kb<<uint(order))
		}
		fmt.Fprintf(w, "= %dkB)\n", total*kb)

		f := s.Fragmentation()
		if f.Blocks == 0 {
			continue
		}
		trust.Statsf("buddy", "zone %s: %d free blocks, order mean %.2f min %.0f max %.0f",
			s.Name, f.Blocks, f.MeanOrder, f.MinOrder, f.MaxOrder)
	}
}

// Verify walks every free list and checks the bookkeeping: blocks are
// aligned, inside their zone, free and not reserved; the free counter
// matches the lists; each pair bit is the parity of its halves; and no two
// free buddies were left unmerged.  Problems are logged and the first is
// returned.
func (m *MemSystem) Verify() JoyError {
	result := JoyNoError
	report := func(format string, params ...interface{}) {
		trust.Errorf("verify: "+format, params...)
		result = MakeError(nil, ErrorMemoryCorrupted)
	}
	for c := range m.zones {
		z := &m.zones[c]
		z.lock.Lock()
		m.verifyZone(z, report)
		z.lock.Unlock()
	}
	return result
}

// must be called with the zone lock held
func (m *MemSystem) verifyZone(z *Zone, report func(string, ...interface{})) {
	if len(z.freeArea) == 0 {
		if z.freePages != 0 {
			report("zone %s: empty zone has %d free pages", z.name, z.freePages)
		}
		return
	}
	// freeOrder[idx] is the order of the free block starting at idx, or -1
	freeOrder := make([]int8, z.size)
	for i := range freeOrder {
		freeOrder[i] = -1
	}
	counted := uint64(0)
	for order := range z.freeArea {
		list := &z.freeArea[order].list
		seen := 0
		for pfn := list.First(); pfn != NoPage; pfn = list.Next(pfn) {
			seen++
			if seen > int(z.size) {
				report("zone %s: order %d list loops", z.name, order)
				break
			}
			p := &m.memMap[pfn]
			if z.badRange(p) {
				report("zone %s: order %d list holds page %d of another zone", z.name, order, pfn)
				continue
			}
			idx := p.pfn - z.offset
			if idx&(uint32(1)<<uint(order)-1) != 0 {
				report("zone %s: page %d is not aligned to order %d", z.name, pfn, order)
			}
			if idx+uint32(1)<<uint(order) > z.size {
				report("zone %s: order %d block at page %d runs past the zone", z.name, order, pfn)
				continue
			}
			if p.Reserved() || p.Count() != 0 {
				report("zone %s: free page %d has count %d reserved %v",
					z.name, pfn, p.Count(), p.Reserved())
			}
			if freeOrder[idx] >= 0 {
				report("zone %s: page %d is on the order %d and %d lists",
					z.name, pfn, freeOrder[idx], order)
			}
			freeOrder[idx] = int8(order)
			counted += uint64(1) << uint(order)
		}
		if seen != list.Length() {
			report("zone %s: order %d list has %d entries but counts %d",
				z.name, order, seen, list.Length())
		}
	}
	if counted != z.freePages {
		report("zone %s: free lists hold %d pages but the zone counts %d",
			z.name, counted, z.freePages)
	}

	isFree := func(idx uint64, order int) bool {
		return idx < uint64(z.size) && freeOrder[idx] == int8(order)
	}
	for order := 0; order+1 < len(z.freeArea); order++ {
		buddies := z.freeArea[order].buddies
		pairSize := uint64(1) << uint(order+1)
		for first := uint64(0); first+pairSize <= uint64(z.size); first += pairSize {
			a := isFree(first, order)
			b := isFree(first+pairSize/2, order)
			if a && b {
				report("zone %s: buddies at %d are both free at order %d",
					z.name, first, order)
			}
			pair := upbeat.PairIndex(first, uint(order))
			if buddies.IsWhole(pair) == (a != b) {
				report("zone %s: order %d pair at %d has the wrong parity", z.name, order, first)
			}
		}
	}
}
