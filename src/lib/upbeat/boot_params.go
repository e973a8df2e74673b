package upbeat

import (
	"errors"
	"fmt"
)

// NumZoneClasses is the number of memory classes the platform reports:
// DMA capable, normal and high memory, in that order.
const NumZoneClasses = 3

// MaxOrderLimit bounds the number of free area orders a platform may ask for.
const MaxOrderLimit = 16

// BootParams is the memory map handed to the kernel at boot.  Sizes are in
// pages.
type BootParams struct {
	PageSize       uint64
	MaxOrder       uint
	ZoneSizes      [NumZoneClasses]uint64
	ZoneHoles      [NumZoneClasses]uint64
	BalanceHighMem bool
}

// DefaultBootParams is a 128M machine with 4K pages: 16M of DMA capable
// memory, the rest normal, no high memory.
func DefaultBootParams() BootParams {
	return BootParams{
		PageSize:  4096,
		MaxOrder:  10,
		ZoneSizes: [NumZoneClasses]uint64{4096, 28672, 0},
	}
}

var errNoDMA = errors.New("memory map has no DMA capable memory")

func (p BootParams) Validate() error {
	if p.PageSize < 1024 || p.PageSize&(p.PageSize-1) != 0 {
		return fmt.Errorf("page size %d is not a power of two >= 1024", p.PageSize)
	}
	if p.MaxOrder < 1 || p.MaxOrder > MaxOrderLimit {
		return fmt.Errorf("max order %d out of range [1,%d]", p.MaxOrder, MaxOrderLimit)
	}
	if p.ZoneSizes[0] == 0 {
		return errNoDMA
	}
	for i := 0; i < NumZoneClasses; i++ {
		if p.ZoneHoles[i] > p.ZoneSizes[i] {
			return fmt.Errorf("zone %d has %d holes but only %d pages", i,
				p.ZoneHoles[i], p.ZoneSizes[i])
		}
	}
	if p.TotalPages() >= 1<<31 {
		return fmt.Errorf("memory map of %d pages is too large", p.TotalPages())
	}
	return nil
}

func (p BootParams) TotalPages() uint64 {
	t := uint64(0)
	for _, s := range p.ZoneSizes {
		t += s
	}
	return t
}

// PresentPages is TotalPages without the holes.
func (p BootParams) PresentPages() uint64 {
	t := p.TotalPages()
	for _, h := range p.ZoneHoles {
		t -= h
	}
	return t
}

// PageKB is the page size in kilobytes, used when reporting.
func (p BootParams) PageKB() uint64 {
	return p.PageSize >> 10
}
