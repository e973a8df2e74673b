package joy

import (
	"sync/atomic"
)

// FamilyId identifies a family in error codes and log messages.
type FamilyId uint16

const NoFamilyId FamilyId = 0xffff

// familyFlags are just markers on the family for internal use.
type familyFlags uint32

const (
	ffKernelThread familyFlags = 1 << iota
	// ffMemAlloc marks a family that is currently reclaiming memory on
	// behalf of an allocation.  Its own allocations must not recurse into
	// reclaim.
	ffMemAlloc
)

var lastFamilyId uint32

//
// Family is the calling context of an allocation: roughly a thread of
// control.  Each goroutine that allocates owns its own family; a family is
// not safe for use by two goroutines at once.
//
type Family struct {
	Id           FamilyId
	name         string
	flags        familyFlags
	preemptCount int32
}

// NewFamily returns a fresh, preemptible family.
func NewFamily(name string) *Family {
	id := FamilyId(atomic.AddUint32(&lastFamilyId, 1) % uint32(NoFamilyId))
	return &Family{Id: id, name: name}
}

// NewKernelFamily is NewFamily for kernel threads such as the reclaim daemon.
func NewKernelFamily(name string) *Family {
	f := NewFamily(name)
	f.flags |= ffKernelThread
	return f
}

func (f *Family) Name() string {
	return f.name
}

// ProhibitPreemption puts the family in atomic context, as when it holds a
// spinlock or runs an interrupt handler.  Calls nest.
func (f *Family) ProhibitPreemption() {
	f.preemptCount++
}

func (f *Family) PermitPreemption() {
	if f.preemptCount == 0 {
		bug(ErrorFamilyPreemptUnderflow,
			"family %d (%s): unbalanced PermitPreemption", f.Id, f.name)
	}
	f.preemptCount--
}

// InAtomic returns true if the family may not block.
func (f *Family) InAtomic() bool {
	return f.preemptCount > 0
}

// MemAlloc returns true while the family is reclaiming memory.
func (f *Family) MemAlloc() bool {
	return f.flags&ffMemAlloc != 0
}

func (f *Family) KernelThread() bool {
	return f.flags&ffKernelThread != 0
}

func (f *Family) setMemAlloc(on bool) {
	if on {
		f.flags |= ffMemAlloc
	} else {
		f.flags &^= ffMemAlloc
	}
}
