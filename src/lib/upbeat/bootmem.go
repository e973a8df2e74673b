package upbeat

import (
	"unsafe"

	"pagezone/src/lib/trust"
)

// BootMem is the linear allocator used before the page allocator exists.
// It hands out zeroed, 8 byte aligned chunks of a single arena and cannot
// free them.  Once the kernel has built its page allocator the arena is
// retired and any further allocation is refused.
//
// The arena is made of uint64s so that every chunk is word aligned; chunks
// must not be used to hold Go pointers.
type BootMem struct {
	arena   []uint64
	next    uintptr // in bytes
	allocs  int
	retired bool
}

func NewBootMem(size uintptr) *BootMem {
	return &BootMem{arena: make([]uint64, (size+7)>>3)}
}

// Alloc returns size zeroed bytes or nil if the arena is exhausted or
// retired.
func (b *BootMem) Alloc(size uintptr) unsafe.Pointer {
	if b.retired {
		trust.Errorf("bootmem: allocation of %d bytes after retirement", size)
		return nil
	}
	size = (size + 7) &^ 7
	if size == 0 {
		size = 8
	}
	if b.next+size > b.Size() {
		trust.Errorf("bootmem: out of memory (wanted %d, %d of %d used)",
			size, b.next, b.Size())
		return nil
	}
	ptr := unsafe.Pointer(&b.arena[b.next>>3])
	b.next += size
	b.allocs++
	return ptr
}

// AllocWords is Alloc for n uint64s.
func (b *BootMem) AllocWords(n int) []uint64 {
	if n == 0 {
		return nil
	}
	ptr := b.Alloc(uintptr(n) * 8)
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*uint64)(ptr), n)
}

// Retire marks the end of the boot phase.
func (b *BootMem) Retire() {
	trust.Debugf("bootmem: retired after %d allocations, %d of %d bytes used",
		b.allocs, b.next, b.Size())
	b.retired = true
}

func (b *BootMem) Used() uintptr {
	return b.next
}

func (b *BootMem) Size() uintptr {
	return uintptr(len(b.arena)) << 3
}
