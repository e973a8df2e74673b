package upbeat

// order 0 : 1 page
// order 1 : 2 pages
// order 2 : 4 pages
// ...
// order n : 1<<n pages
//
// A BuddyMap has one bit per buddy pair at a single order.  The bit is the
// parity of the pair: it is on when exactly one half is free (the pair is
// split) and off when both halves are in the same state (the pair is whole).
// Freeing a block whose pair becomes whole means its buddy is free too and
// the two can be merged into one block of the next order.

type BuddyMap struct {
	bits *BitSet
}

// BuddyMapWords returns the number of 64 bit words needed to track pairs
// buddy pairs.
func BuddyMapWords(pairs uint64) int {
	return int((pairs + 63) >> 6)
}

// NewBuddyMap builds a map over words, which must hold BuddyMapWords(pairs)
// words.  All pairs start whole.
func NewBuddyMap(pairs uint64, words []uint64) BuddyMap {
	size := uint32(BuddyMapWords(pairs)) << 6
	return BuddyMap{bits: NewBitSet(size, words)}
}

// PairIndex is the index of the pair containing the block that starts at
// zone relative page index idx at the given order.
func PairIndex(idx uint64, order uint) BitIndex {
	return BitIndex(idx >> (order + 1))
}

// BuddyOf returns the zone relative index of the buddy of the block at idx.
func BuddyOf(idx uint64, order uint) uint64 {
	return idx ^ (uint64(1) << order)
}

func (b BuddyMap) IsWhole(pair BitIndex) bool {
	return !b.bits.On(pair)
}

// Toggle records that one half of the pair changed state and reports
// whether the pair is now whole.
func (b BuddyMap) Toggle(pair BitIndex) bool {
	return b.bits.Toggle(pair)
}

// Split returns the number of pairs currently split.
func (b BuddyMap) Split() int {
	return b.bits.Count()
}

func (b BuddyMap) Pairs() uint32 {
	return b.bits.Size()
}
