package joy

import (
	"fmt"

	"pagezone/src/lib/trust"
)

const subsystemMask = 0x00ff_0000_0000_0000
const familyIDMask = 0x0000_ffff_0000_0000
const errorNumberMask = 0x0000_0000_0000_ffff

const JoyNoError = JoyError(0)

// Memory Errors
const MemorySubsystem = 1
const MemoryPageAlreadyInUse = 1
const MemoryPageNotAvailable = 2
const MemoryBadPageRequest = 3
const MemoryAlreadyFree = 4
const MemoryBadBootParams = 5
const MemoryBootmemExhausted = 6
const MemoryCorrupted = 7
const MemoryNotMapped = 8
const MemoryAlreadyInitialized = 9

var ErrorMemoryPageAlreadyInUse = errorValue(MemorySubsystem, MemoryPageAlreadyInUse)
var ErrorMemoryPageNotAvailable = errorValue(MemorySubsystem, MemoryPageNotAvailable)
var ErrorMemoryBadPageRequest = errorValue(MemorySubsystem, MemoryBadPageRequest)
var ErrorMemoryAlreadyFree = errorValue(MemorySubsystem, MemoryAlreadyFree)
var ErrorMemoryBadBootParams = errorValue(MemorySubsystem, MemoryBadBootParams)
var ErrorMemoryBootmemExhausted = errorValue(MemorySubsystem, MemoryBootmemExhausted)
var ErrorMemoryCorrupted = errorValue(MemorySubsystem, MemoryCorrupted)
var ErrorMemoryNotMapped = errorValue(MemorySubsystem, MemoryNotMapped)
var ErrorMemoryAlreadyInitialized = errorValue(MemorySubsystem, MemoryAlreadyInitialized)

// Family Errors
const FamilySubsystem = 2
const FamilyAtomicSleep = 1
const FamilyPreemptUnderflow = 2

var ErrorFamilyAtomicSleep = errorValue(FamilySubsystem, FamilyAtomicSleep)
var ErrorFamilyPreemptUnderflow = errorValue(FamilySubsystem, FamilyPreemptUnderflow)

// JoyError is an error code: subsystem, the family that was running and the
// error number within the subsystem.
type JoyError uint64
type RawJoyError uint64 // error with just the constant part of the value filled in

var errorMap = map[RawJoyError]string{
	ErrorMemoryPageAlreadyInUse:   "memory page is already in use",
	ErrorMemoryPageNotAvailable:   "no zone could satisfy the allocation",
	ErrorMemoryBadPageRequest:     "bad page request",
	ErrorMemoryAlreadyFree:        "memory page is already free",
	ErrorMemoryBadBootParams:      "bad memory map at boot",
	ErrorMemoryBootmemExhausted:   "boot memory exhausted",
	ErrorMemoryCorrupted:          "free area bookkeeping is corrupted",
	ErrorMemoryNotMapped:          "memory is not permanently mapped",
	ErrorMemoryAlreadyInitialized: "memory subsystem is already initialized",
	ErrorFamilyAtomicSleep:        "blocking allocation from atomic context",
	ErrorFamilyPreemptUnderflow:   "preemption permitted more often than prohibited",
}

func JoyErrorMessage(j JoyError) string {
	return errorText(uint64(j))
}

func errorText(raw uint64) string {
	t, ok := errorMap[RawJoyError(raw&^familyIDMask)]
	if !ok {
		return "Unknown error code"
	}
	fid := (raw & familyIDMask) >> 32
	return fmt.Sprintf("Family %d: %s", fid, t)
}

func errorValue(subsys byte, errorNumber uint16) RawJoyError {
	ss := subsystemMask & (uint64(subsys) << 48)
	en := errorNumberMask & (uint64(errorNumber) << 0)
	return RawJoyError(ss | en)
}

// MakeError adds the dynamic fields (the calling family) to the error value.
func MakeError(f *Family, rawError RawJoyError) JoyError {
	raw := uint64(rawError)
	if f != nil {
		raw |= (uint64(f.Id) << 32) & familyIDMask
	}
	return JoyError(raw)
}

func (j JoyError) Error() string {
	return JoyErrorMessage(j)
}

// Is reports whether j was made from raw, ignoring the family.
func (j JoyError) Is(raw RawJoyError) bool {
	return RawJoyError(uint64(j)&^familyIDMask) == raw
}

// Bug is what the memory subsystem panics with when a caller breaks its
// contract or the free area bookkeeping is found inconsistent.  These are
// never returned as values; continuing would corrupt the free lists further.
type Bug struct {
	Code JoyError
	Msg  string
}

func (b *Bug) Error() string {
	return "kernel BUG: " + b.Msg
}

func bug(raw RawJoyError, format string, params ...interface{}) {
	b := &Bug{Code: JoyError(raw), Msg: fmt.Sprintf(format, params...)}
	trust.Errorf("%s", b.Error())
	panic(b)
}
