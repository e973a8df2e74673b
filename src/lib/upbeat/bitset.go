package upbeat

import (
	"math/bits"

	"pagezone/src/lib/trust"
)

type BitSet struct {
	size uint32
	data []uint64
}

type BitIndex uint32

//bitsets have to be multiples of 64.  the words provided should already be
//allocated (usually from boot memory) to be the place to store the data and
//must hold at least size bits.
func NewBitSet(size uint32, words []uint64) *BitSet {
	mask := ^(uint32(0x3f))
	if size&mask != size {
		trust.Errorf("your bitset size is not a multiple of 64: %d", size)
		return nil
	}
	if uint32(len(words)) < size>>6 {
		trust.Errorf("bitset of %d bits given only %d words", size, len(words))
		return nil
	}
	result := &BitSet{
		data: words[:size>>6],
		size: size,
	}
	result.ClearAll()
	return result
}

func (b *BitSet) Size() uint32 {
	return b.size
}

func (b *BitSet) On(bit BitIndex) bool {
	return b.data[bit>>6]&(uint64(1)<<(bit%64)) != 0
}

func (b *BitSet) Set(bit BitIndex) {
	b.data[bit>>6] |= uint64(1) << (bit % 64)
}

func (b *BitSet) Clear(bit BitIndex) {
	b.data[bit>>6] &^= uint64(1) << (bit % 64)
}

// Toggle flips the bit and returns the value it had before.
func (b *BitSet) Toggle(bit BitIndex) bool {
	mask := uint64(1) << (bit % 64)
	old := b.data[bit>>6]
	b.data[bit>>6] = old ^ mask
	return old&mask != 0
}

// Count returns the number of bits that are on.
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.data {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b *BitSet) ClearAll() {
	for i := range b.data {
		b.data[i] = 0
	}
}
