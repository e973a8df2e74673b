package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"pagezone/src/joy"
	"pagezone/src/lib/trust"
)

// maxHeld bounds the blocks one stress family keeps outside the cache, so
// blocking allocations can always be satisfied eventually.  Every blocking
// context below may do I/O, so any cached block can be reclaimed for it.
const maxHeld = 16

// maxCached bounds the page cache in stress mode.
const maxCached = 1024

var stressContexts = []joy.GFP{
	joy.GFPKernel,
	joy.GFPUser,
	joy.GFPHighUser,
	joy.GFPAtomic,
	joy.GFPAtomic | joy.GFPDMA,
	joy.GFPKernel | joy.GFPDMA,
}

type stressResult struct {
	allocs   int
	failures int
	cached   int
}

func stressFamily(m *joy.MemSystem, cache *pageCache, f *joy.Family, seed int64, iterations int) stressResult {
	var res stressResult
	r := rand.New(rand.NewSource(seed))
	type block struct {
		p     *joy.Page
		order uint
	}
	var held []block
	for i := 0; i < iterations; i++ {
		if len(held) == maxHeld || (len(held) > 0 && r.Intn(3) == 0) {
			k := r.Intn(len(held))
			b := held[k]
			held[k] = held[len(held)-1]
			held = held[:len(held)-1]
			if r.Intn(4) == 0 && cache.Len() < maxCached {
				cache.Add(b.p, b.order, r.Intn(2) == 0)
				res.cached++
			} else {
				m.FreePages(b.p, b.order)
			}
			continue
		}
		gfp := stressContexts[r.Intn(len(stressContexts))]
		order := uint(r.Intn(4))
		if order >= m.MaxOrder() {
			order = m.MaxOrder() - 1
		}
		// an interrupt handler allocating
		atomic := gfp&joy.GFPWait == 0
		if atomic {
			f.ProhibitPreemption()
		}
		p, err := m.AllocPages(f, gfp, order)
		if atomic {
			f.PermitPreemption()
		}
		if err != joy.JoyNoError {
			res.failures++
			continue
		}
		res.allocs++
		held = append(held, block{p, order})
	}
	for _, b := range held {
		m.FreePages(b.p, b.order)
	}
	return res
}

// stress runs families allocating from goroutines and reports the state of
// memory afterwards.  It returns the process exit code.
func stress(m *joy.MemSystem, cache *pageCache, families int, iterations int) int {
	before := m.NrFreePages()
	results := make([]stressResult, families)
	var wg sync.WaitGroup
	for i := 0; i < families; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := joy.NewFamily(fmt.Sprintf("stress%d", i))
			results[i] = stressFamily(m, cache, f, int64(i), iterations)
		}(i)
	}
	wg.Wait()

	total := stressResult{}
	for _, r := range results {
		total.allocs += r.allocs
		total.failures += r.failures
		total.cached += r.cached
	}
	trust.Infof("stress: %d families, %d allocations, %d atomic failures, %d blocks cached, %d evicted",
		families, total.allocs, total.failures, total.cached, cache.Evicted())
	m.ShowFreeAreas(os.Stdout)

	cache.Drop()
	if err := m.Verify(); err != joy.JoyNoError {
		trust.Errorf("stress: %v", err)
		return 1
	}
	if after := m.NrFreePages(); after != before {
		trust.Errorf("stress: %d pages free before, %d after", before, after)
		return 1
	}
	return 0
}
