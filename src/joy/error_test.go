package joy

import (
	"fmt"
	"testing"
)

func TestErrorText(t *testing.T) {
	f := NewFamily("text")
	err := MakeError(f, ErrorMemoryPageNotAvailable)
	if !err.Is(ErrorMemoryPageNotAvailable) || err.Is(ErrorMemoryAlreadyFree) {
		t.Errorf("error %x does not match its code", uint64(err))
	}
	want := fmt.Sprintf("Family %d: no zone could satisfy the allocation", f.Id)
	if err.Error() != want {
		t.Errorf("got %q, expected %q", err.Error(), want)
	}
	if MakeError(nil, ErrorFamilyAtomicSleep).Error() != "Family 0: blocking allocation from atomic context" {
		t.Errorf("bad text for family-less error: %q", MakeError(nil, ErrorFamilyAtomicSleep).Error())
	}
	if JoyError(0x00ff_0000_0000_0042).Error() != "Unknown error code" {
		t.Errorf("unknown code has text")
	}
	b := &Bug{Code: JoyError(ErrorMemoryCorrupted), Msg: "lists crossed"}
	if b.Error() != "kernel BUG: lists crossed" {
		t.Errorf("bug text %q", b.Error())
	}
}

func TestFamilies(t *testing.T) {
	a := NewFamily("a")
	b := NewFamily("b")
	if a.Id == b.Id {
		t.Errorf("families share id %d", a.Id)
	}
	if a.Name() != "a" || a.KernelThread() || a.InAtomic() || a.MemAlloc() {
		t.Errorf("fresh family has state")
	}
	a.ProhibitPreemption()
	a.ProhibitPreemption()
	a.PermitPreemption()
	if !a.InAtomic() {
		t.Errorf("nested preemption count lost")
	}
	a.PermitPreemption()
	if a.InAtomic() {
		t.Errorf("family still atomic")
	}
}
