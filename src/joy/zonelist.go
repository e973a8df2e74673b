package joy

import (
	"strings"
)

// GFP is the allocation context of a request: which zones it may use,
// whether it may block, and how important it is.
type GFP uint32

const (
	GFPWait    GFP = 0x01 // may block and reclaim
	GFPLow     GFP = 0x02
	GFPMed     GFP = 0x04 // allowed to dig below the watermarks
	GFPHigh    GFP = 0x08 // allowed to dig below the watermarks
	GFPIO      GFP = 0x10
	GFPSwap    GFP = 0x20
	GFPHighMem GFP = 0x40 // may be served from high memory
	GFPDMA     GFP = 0x80 // must be served from DMA capable memory

	GFPBuffer   = GFPLow | GFPWait
	GFPAtomic   = GFPHigh
	GFPUser     = GFPLow | GFPWait | GFPIO
	GFPHighUser = GFPUser | GFPHighMem
	GFPKernel   = GFPMed | GFPWait | GFPIO
	GFPNFS      = GFPHigh | GFPWait | GFPIO
	GFPKswapd   = GFPIO | GFPSwap

	// NumGFPIndex is the number of distinct contexts, one zonelist each.
	NumGFPIndex = 0x100
)

var gfpNames = []struct {
	g    GFP
	name string
}{{GFPWait, "WAIT"}, {GFPLow, "LOW"}, {GFPMed, "MED"}, {GFPHigh, "HIGH"},
	{GFPIO, "IO"}, {GFPSwap, "SWAP"}, {GFPHighMem, "HIGHMEM"}, {GFPDMA, "DMA"}}

func (g GFP) String() string {
	var parts []string
	for _, n := range gfpNames {
		if g&n.g != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

func (g GFP) canBlock() bool {
	return g&GFPWait != 0
}

func (g GFP) priority() bool {
	return g&(GFPMed|GFPHigh) != 0
}

// Zonelist is the fallback order for one allocation context.  It is built
// at boot and never changes, so it is read without locking.
type Zonelist struct {
	gfp   GFP
	zones []*Zone
}

func (zl *Zonelist) GFP() GFP {
	return zl.gfp
}

// Zones returns the zones in the order they are tried.
func (zl *Zonelist) Zones() []*Zone {
	return zl.zones
}

// buildZonelists fills one list per context.  A list starts at the highest
// class the context may use and falls through every lower class, so DMA
// memory, the scarcest, is always tried last.  Empty zones are skipped.
func buildZonelists(zones *[NumZones]Zone, lists *[NumGFPIndex]Zonelist) {
	for i := 0; i < NumGFPIndex; i++ {
		gfp := GFP(i)
		zl := &lists[i]
		zl.gfp = gfp
		zl.zones = make([]*Zone, 0, NumZones)

		k := ZoneNormal
		if gfp&GFPHighMem != 0 {
			k = ZoneHighMem
		}
		if gfp&GFPDMA != 0 {
			k = ZoneDMA
		}
		for c := k; c >= ZoneDMA; c-- {
			if zones[c].size != 0 {
				zl.zones = append(zl.zones, &zones[c])
			}
		}
	}
}
