package main

import (
	"bytes"
	"io"
	"os"
	"testing"

	"pagezone/src/joy"
	"pagezone/src/lib/trust"
	"pagezone/src/lib/upbeat"
)

func TestMain(m *testing.M) {
	trust.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newMem(t *testing.T, sizes ...uint64) *joy.MemSystem {
	t.Helper()
	p := upbeat.BootParams{PageSize: 4096, MaxOrder: 4}
	copy(p.ZoneSizes[:], sizes)
	m, err := joy.FreeAreaInit(p, nil)
	if err != joy.JoyNoError {
		t.Fatalf("free area init failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	m.ReleaseBootPages()
	return m
}

func TestCacheReclaim(t *testing.T) {
	m := newMem(t, 16)
	c := newPageCache(m)
	f := joy.NewFamily("test")

	for i := 0; i < 4; i++ {
		p, err := m.AllocPages(f, joy.GFPAtomic, 1)
		if err != joy.JoyNoError {
			t.Fatalf("allocation failed: %v", err)
		}
		c.Add(p, 1, i%2 == 0)
	}
	if m.NrFreePages() != 8 || c.Len() != 4 {
		t.Fatalf("expected 8 free pages and 4 cached blocks")
	}

	// without I/O only the clean blocks go
	if !c.TryToFreePages(f, joy.GFPBuffer) {
		t.Errorf("clean blocks not reclaimed")
	}
	if m.NrFreePages() != 12 || c.Len() != 2 {
		t.Errorf("after clean reclaim: %d free, %d cached", m.NrFreePages(), c.Len())
	}
	if c.TryToFreePages(f, joy.GFPBuffer) {
		t.Errorf("dirty blocks reclaimed without I/O")
	}
	if !c.TryToFreePages(f, joy.GFPKernel) {
		t.Errorf("dirty blocks not written back")
	}
	if m.NrFreePages() != 16 || c.Len() != 0 || c.Evicted() != 4 {
		t.Errorf("after reclaim: %d free, %d cached, %d evicted",
			m.NrFreePages(), c.Len(), c.Evicted())
	}
	if err := m.Verify(); err != joy.JoyNoError {
		t.Errorf("verify: %v", err)
	}
}

// A blocking allocation that finds memory short evicts the cache instead
// of waiting.
func TestCacheAsReclaimer(t *testing.T) {
	m := newMem(t, 16)
	c := newPageCache(m)
	m.SetReclaimer(c)
	f := joy.NewFamily("test")

	for i := 0; i < 2; i++ {
		p, err := m.AllocPages(f, joy.GFPAtomic, 3)
		if err != joy.JoyNoError {
			t.Fatalf("allocation failed: %v", err)
		}
		c.Add(p, 3, false)
	}
	p, err := m.AllocPages(f, joy.GFPUser, 2)
	if err != joy.JoyNoError {
		t.Fatalf("blocking allocation failed: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("cache not reclaimed: %d blocks", c.Len())
	}
	m.FreePages(p, 2)
	if m.NrFreePages() != 16 {
		t.Errorf("expected 16 free pages, got %d", m.NrFreePages())
	}
}

func TestStress(t *testing.T) {
	m := newMem(t, 1024, 1024)
	c := newPageCache(m)
	m.SetReclaimer(c)
	if code := stress(m, c, 4, 500); code != 0 {
		t.Errorf("stress failed with %d", code)
	}
}

func TestParseTriple(t *testing.T) {
	var v [upbeat.NumZoneClasses]uint64
	if err := parseTriple("16, 0x20", &v); err != nil || v != [3]uint64{16, 32, 0} {
		t.Errorf("parsed %v, %v", v, err)
	}
	if err := parseTriple("1,2,3,4", &v); err == nil {
		t.Errorf("four zones accepted")
	}
	if err := parseTriple("1,x", &v); err == nil {
		t.Errorf("bad number accepted")
	}
}

func TestCRLF(t *testing.T) {
	var buf bytes.Buffer
	n, err := crlfWriter{&buf}.Write([]byte("a\nb\n"))
	if err != nil || n != 4 || buf.String() != "a\r\nb\r\n" {
		t.Errorf("got %q, %d, %v", buf.String(), n, err)
	}
}
