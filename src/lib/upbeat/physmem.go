package upbeat

import (
	"fmt"
	"unsafe"
)

// PhysMem is the RAM the page allocator hands out, one contiguous region
// indexed by page frame number.
type PhysMem struct {
	mem      []byte
	pageSize uint64
	pages    uint64
}

func NewPhysMem(pages uint64, pageSize uint64) (*PhysMem, error) {
	m := &PhysMem{pageSize: pageSize, pages: pages}
	if pages == 0 {
		return m, nil
	}
	mem, err := mapPhys(int(pages * pageSize))
	if err != nil {
		return nil, fmt.Errorf("unable to map %d pages of physical memory: %w", pages, err)
	}
	m.mem = mem
	return m, nil
}

// Pages returns the bytes of n pages starting at pfn.
func (m *PhysMem) Pages(pfn uint64, n uint64) []byte {
	if pfn+n > m.pages {
		return nil
	}
	start := pfn * m.pageSize
	end := start + n*m.pageSize
	return m.mem[start:end:end]
}

// PFN is the inverse of Pages: the frame number of the first byte of b.
func (m *PhysMem) PFN(b []byte) (uint64, bool) {
	if len(b) == 0 || len(m.mem) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(m.mem)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p >= base+uintptr(len(m.mem)) {
		return 0, false
	}
	off := uint64(p - base)
	if off%m.pageSize != 0 {
		return 0, false
	}
	return off / m.pageSize, true
}

func (m *PhysMem) PageSize() uint64 {
	return m.pageSize
}

func (m *PhysMem) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unmapPhys(m.mem)
	m.mem = nil
	m.pages = 0
	return err
}
