package joy

import (
	"runtime"
	"time"

	"pagezone/src/lib/trust"
)

// Reclaimer frees in-use pages (writeback, cache eviction) when a zone runs
// low.  It is called with the family marked as a reclaim agent and no zone
// lock held; it reports whether at least one page was freed.
type Reclaimer interface {
	TryToFreePages(f *Family, gfp GFP) bool
}

// ReclaimFunc adapts a function to a Reclaimer.
type ReclaimFunc func(f *Family, gfp GFP) bool

func (r ReclaimFunc) TryToFreePages(f *Family, gfp GFP) bool {
	return r(f, gfp)
}

// NoReclaim is a Reclaimer with nothing to reclaim.
var NoReclaim Reclaimer = ReclaimFunc(func(*Family, GFP) bool { return false })

// RetryPolicy is called each time a blocking allocation finds every zone in
// its list unable to help.  The allocation is retried when it returns, so a
// policy decides how long to wait and what to report, never whether to give
// up.
type RetryPolicy interface {
	Retry(f *Family, gfp GFP, order uint, attempt int)
}

// YieldRetry gives up the processor and nothing else.
type YieldRetry struct{}

func (YieldRetry) Retry(*Family, GFP, uint, int) {
	runtime.Gosched()
}

// WatchdogRetry backs off exponentially up to Max and warns every Every
// attempts so a stuck allocation is visible in the log.
type WatchdogRetry struct {
	Every   int
	Backoff time.Duration
	Max     time.Duration
	Log     trust.Logger
}

func (w WatchdogRetry) Retry(f *Family, gfp GFP, order uint, attempt int) {
	if w.Every > 0 && attempt > 0 && attempt%w.Every == 0 {
		log := w.Log
		if log == nil {
			log = trust.Default()
		}
		log.Warnf("family %d (%s): order %d allocation (%s) has failed %d times",
			f.Id, f.name, order, gfp, attempt)
	}
	if w.Backoff <= 0 {
		runtime.Gosched()
		return
	}
	d := w.Backoff
	for i := 0; i < attempt && (w.Max <= 0 || d < w.Max); i++ {
		d *= 2
	}
	if w.Max > 0 && d > w.Max {
		d = w.Max
	}
	time.Sleep(d)
}

// underPressure runs the low memory state machine and reports whether the
// zone should be relieved before it is used.  The latch is set below
// pagesLow and only released at pagesHigh.
func (z *Zone) underPressure() bool {
	z.lock.Lock()
	defer z.lock.Unlock()
	switch {
	case z.freePages < z.pagesLow:
		z.lowOnMemory = true
	case z.lowOnMemory && z.freePages >= z.pagesHigh:
		z.lowOnMemory = false
	}
	return z.lowOnMemory || z.freePages == 0
}

// balance decides whether an allocation may be attempted in z.  Must be
// called without the zone lock: it may reclaim.
func (z *Zone) balance(f *Family, gfp GFP, r Reclaimer) bool {
	if !z.underPressure() {
		return true
	}
	// atomic allocations only kick the state machine
	if !gfp.canBlock() {
		return true
	}

	f.setMemAlloc(true)
	freed := r.TryToFreePages(f, gfp)
	f.setMemAlloc(false)

	if !freed && !gfp.priority() {
		trust.Debugf("zone %s: reclaim for family %d, gfp %s freed nothing, falling back",
			z.name, f.Id, gfp)
		return false
	}
	return true
}

// allocPages walks the zonelist until a zone yields a block.  Blocking
// contexts never fail: they retry through the policy until memory shows up.
func (m *MemSystem) allocPages(f *Family, zl *Zonelist, order uint) *Page {
	gfp := zl.gfp

	// a reclaim agent allocating: take anything, never recurse
	if f.MemAlloc() {
		for _, z := range zl.zones {
			if z.FreePages() == 0 {
				continue
			}
			if p := z.rmqueue(order); p != nil {
				return p
			}
		}
		return nil
	}

	for attempt := 0; ; attempt++ {
		for _, z := range zl.zones {
			if !z.balance(f, gfp, m.reclaim) {
				continue
			}
			if p := z.rmqueue(order); p != nil {
				return p
			}
		}
		if !gfp.canBlock() {
			return nil
		}
		m.retry.Retry(f, gfp, order, attempt)
	}
}
