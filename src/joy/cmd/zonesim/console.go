package main

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	tty "github.com/mattn/go-tty"

	"pagezone/src/joy"
	"pagezone/src/lib/trust"
)

// crlfWriter turns \n into \r\n for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

type heldBlock struct {
	page  *joy.Page
	order uint
	gfp   joy.GFP
}

// console drives the allocator one key at a time.  Allocations run on their
// own goroutine and family so that one which blocks does not stop the
// console from freeing memory.
type console struct {
	io      *tty.TTY
	restore func() error
	out     io.Writer
	mem     *joy.MemSystem
	cache   *pageCache
	order   uint

	mu      sync.Mutex
	held    []heldBlock
	pending int
	next    int
}

func newConsole(devTTYPath string, m *joy.MemSystem, cache *pageCache) (*console, error) {
	var ttyObj *tty.TTY
	var err error
	if devTTYPath == "" {
		ttyObj, err = tty.Open()
	} else {
		ttyObj, err = tty.OpenDevice(devTTYPath)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open console: %w", err)
	}
	restore, err := ttyObj.Raw()
	if err != nil {
		ttyObj.Close()
		return nil, fmt.Errorf("unable to put console in raw mode: %w", err)
	}
	c := &console{
		io:      ttyObj,
		restore: restore,
		out:     crlfWriter{ttyObj.Output()},
		mem:     m,
		cache:   cache,
	}
	trust.SetOutput(c.out)
	return c, nil
}

func (c *console) Close() error {
	c.restore()
	return c.io.Close()
}

func (c *console) printf(format string, params ...interface{}) {
	fmt.Fprintf(c.out, format, params...)
}

const consoleHelp = `keys:
  0-9  set the order of the next allocation
  a    allocate (kernel)       u  allocate (user)
  h    allocate (high user)    d  allocate (DMA, atomic)
  i    allocate (atomic)
  f    free the newest block   c  move the newest block to the page cache
  C    same, marked dirty      r  run reclaim without I/O
  s    show free areas         v  verify the free areas
  m    memory summary          ?  this help
  q    quit
`

func (c *console) Run() {
	c.printf("zonesim: %d pages free, press ? for help\n", c.mem.NrFreePages())
	for {
		r, err := c.io.ReadRune()
		if err != nil {
			trust.Errorf("console: %v", err)
			return
		}
		switch {
		case r >= '0' && r <= '9':
			order := uint(r - '0')
			if order >= c.mem.MaxOrder() {
				c.printf("order %d too large, max is %d\n", order, c.mem.MaxOrder()-1)
				continue
			}
			c.order = order
			c.printf("order %d\n", order)
		case r == 'a':
			c.alloc(joy.GFPKernel)
		case r == 'u':
			c.alloc(joy.GFPUser)
		case r == 'h':
			c.alloc(joy.GFPHighUser)
		case r == 'd':
			c.alloc(joy.GFPAtomic | joy.GFPDMA)
		case r == 'i':
			c.alloc(joy.GFPAtomic)
		case r == 'f':
			if b, ok := c.popHeld(); ok {
				c.mem.FreePages(b.page, b.order)
				c.printf("freed order %d block at %d\n", b.order, b.page.PFN())
			}
		case r == 'c', r == 'C':
			if b, ok := c.popHeld(); ok {
				c.cache.Add(b.page, b.order, r == 'C')
				c.printf("cached order %d block at %d (%d in cache)\n",
					b.order, b.page.PFN(), c.cache.Len())
			}
		case r == 'r':
			f := joy.NewKernelFamily("console")
			freed := c.cache.TryToFreePages(f, joy.GFPBuffer)
			c.printf("reclaim freed something: %v, %d in cache\n", freed, c.cache.Len())
		case r == 's':
			c.mem.ShowFreeAreas(c.out)
		case r == 'v':
			if err := c.mem.Verify(); err != joy.JoyNoError {
				c.printf("verify: %v\n", err)
			} else {
				c.printf("free areas are consistent\n")
			}
		case r == 'm':
			c.summary()
		case r == '?':
			c.printf("%s", consoleHelp)
		case r == 'q' || r == 3:
			c.mu.Lock()
			pending := c.pending
			c.mu.Unlock()
			if pending > 0 {
				c.printf("%d allocations still waiting for memory\n", pending)
			}
			return
		}
	}
}

func (c *console) summary() {
	info := c.mem.MemInfo()
	c.mu.Lock()
	held, pending := len(c.held), c.pending
	c.mu.Unlock()
	c.printf("%d of %d present pages free (%d high), %d blocks held, %d cached, %d waiting\n",
		info.FreePages, info.PresentPages, info.FreeHighPages, held, c.cache.Len(), pending)
}

func (c *console) alloc(gfp joy.GFP) {
	order := c.order
	c.mu.Lock()
	c.next++
	f := joy.NewFamily(fmt.Sprintf("console%d", c.next))
	c.pending++
	c.mu.Unlock()

	go func() {
		p, err := c.mem.AllocPages(f, gfp, order)
		c.mu.Lock()
		c.pending--
		if err == joy.JoyNoError {
			c.held = append(c.held, heldBlock{p, order, gfp})
		}
		c.mu.Unlock()
		if err != joy.JoyNoError {
			c.printf("%s: order %d (%s) failed: %v\n", f.Name(), order, gfp, err)
			return
		}
		c.printf("%s: order %d (%s) at %d in %s\n", f.Name(), order, gfp,
			p.PFN(), p.ZoneClass())
	}()
}

func (c *console) popHeld() (heldBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.held) == 0 {
		c.printf("nothing allocated\n")
		return heldBlock{}, false
	}
	b := c.held[len(c.held)-1]
	c.held = c.held[:len(c.held)-1]
	return b, true
}
