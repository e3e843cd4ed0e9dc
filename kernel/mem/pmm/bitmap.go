package pmm

import (
	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/mem"
)

const (
	pagesPerBitmapWord = 64
)

// BitmapAllocator is a physical frame allocator backed by one bit per page:
// set means in use, clear means free. The bitmap itself lives inside the
// physical memory it describes, in the smallest usable region large enough
// to hold it, so the allocator needs no heap allocation to come up.
type BitmapAllocator struct {
	bitmap     []uint64
	totalPages uint64
	usedPages  uint64
}

// Region describes one entry of the bootloader-provided memory map. Usable
// regions are released into the allocator; everything else stays marked
// reserved.
type Region struct {
	Base   uintptr
	Length uint64
	Usable bool
}

// requiredBitmapWords returns the number of 8-byte words needed to describe
// totalPages, rounded up.
func requiredBitmapWords(totalPages uint64) uint64 {
	words := totalPages / pagesPerBitmapWord
	if totalPages%pagesPerBitmapWord != 0 {
		words++
	}
	return words
}

// Init lays out the allocator's bitmap inside bitmapStorage (a slice backed
// by bootloader-reported usable memory, reachable through the HHDM) and
// marks every page implied by totalMemory as reserved. Callers then release
// each usable region and finally re-reserve the bytes the bitmap itself
// occupies, mirroring the boot sequence in kmain.
func (a *BitmapAllocator) Init(bitmapStorage []uint64, totalMemory mem.Size) {
	a.totalPages = uint64(totalMemory) / uint64(mem.PageSize)
	a.usedPages = a.totalPages
	a.bitmap = bitmapStorage[:requiredBitmapWords(a.totalPages)]

	for i := range a.bitmap {
		a.bitmap[i] = ^uint64(0)
	}
}

// BitmapSizeBytes returns the number of bytes Init's bitmapStorage argument
// must provide to describe totalMemory.
func BitmapSizeBytes(totalMemory mem.Size) uint64 {
	totalPages := uint64(totalMemory) / uint64(mem.PageSize)
	words := requiredBitmapWords(totalPages)
	size := words * 8
	if rem := size % uint64(mem.PageSize); rem != 0 {
		size += uint64(mem.PageSize) - rem
	}
	return size
}

func (a *BitmapAllocator) isPageUsed(pageIndex uint64) bool {
	return a.bitmap[pageIndex/pagesPerBitmapWord]&(1<<(pageIndex%pagesPerBitmapWord)) != 0
}

func (a *BitmapAllocator) reservePage(pageIndex uint64) {
	a.bitmap[pageIndex/pagesPerBitmapWord] |= 1 << (pageIndex % pagesPerBitmapWord)
	a.usedPages++
}

func (a *BitmapAllocator) releasePage(pageIndex uint64) {
	a.bitmap[pageIndex/pagesPerBitmapWord] &^= 1 << (pageIndex % pagesPerBitmapWord)
	a.usedPages--
}

// addrToPageIndex validates that physAddr is page-aligned and within the
// bounds described by the bitmap, returning its page index.
func (a *BitmapAllocator) addrToPageIndex(physAddr uintptr) (uint64, *kernel.Error) {
	if physAddr%uintptr(mem.PageSize) != 0 {
		return 0, &kernel.Error{Module: "pmm", Code: kernel.ErrAddressAlignment, Message: "physical address is not page aligned"}
	}

	pageIndex := uint64(physAddr) / uint64(mem.PageSize)
	if pageIndex >= a.totalPages {
		return 0, &kernel.Error{Module: "pmm", Code: kernel.ErrOutOfBounds, Message: "physical address exceeds mapped memory"}
	}

	return pageIndex, nil
}

func sizeToPageCount(size uint64) uint64 {
	count := size / uint64(mem.PageSize)
	if size%uint64(mem.PageSize) != 0 {
		count++
	}
	return count
}

// ReleaseRegion marks size bytes beginning at physAddr as available for
// allocation. Used during boot to open up every bootloader-reported usable
// memory-map entry.
func (a *BitmapAllocator) ReleaseRegion(physAddr uintptr, size uint64) *kernel.Error {
	pageIndex, err := a.addrToPageIndex(physAddr)
	if err != nil {
		return err
	}

	pageIndexEnd := pageIndex + sizeToPageCount(size)
	if pageIndexEnd > a.totalPages {
		return &kernel.Error{Module: "pmm", Code: kernel.ErrOutOfBounds, Message: "region extends past mapped memory"}
	}

	for i := pageIndex; i < pageIndexEnd; i++ {
		a.releasePage(i)
	}
	return nil
}

// ReserveRegion marks size bytes beginning at physAddr as unavailable for
// allocation, failing with ErrAlreadyUsed if any page in the range is
// already reserved.
func (a *BitmapAllocator) ReserveRegion(physAddr uintptr, size uint64) *kernel.Error {
	pageIndex, err := a.addrToPageIndex(physAddr)
	if err != nil {
		return err
	}

	pageIndexEnd := pageIndex + sizeToPageCount(size)
	if pageIndexEnd > a.totalPages {
		return &kernel.Error{Module: "pmm", Code: kernel.ErrOutOfBounds, Message: "region extends past mapped memory"}
	}

	for i := pageIndex; i < pageIndexEnd; i++ {
		if a.isPageUsed(i) {
			return &kernel.Error{Module: "pmm", Code: kernel.ErrAlreadyUsed, Message: "region overlaps an already-reserved page"}
		}
	}
	for i := pageIndex; i < pageIndexEnd; i++ {
		a.reservePage(i)
	}
	return nil
}

// canStorePages reports whether pagesNeeded consecutive free pages start at
// startPage without running past endPage.
func (a *BitmapAllocator) canStorePages(pagesNeeded, startPage, endPage uint64) bool {
	if startPage+pagesNeeded > endPage {
		return false
	}
	for i := startPage; i < startPage+pagesNeeded; i++ {
		if a.isPageUsed(i) {
			return false
		}
	}
	return true
}

// findPages scans [startPage, endPage) for the first run of pagesNeeded
// consecutive free pages.
func (a *BitmapAllocator) findPages(pagesNeeded, startPage, endPage uint64) (uint64, *kernel.Error) {
	for i := startPage; i < endPage; i++ {
		if a.canStorePages(pagesNeeded, i, endPage) {
			return i, nil
		}
	}
	return 0, &kernel.Error{Module: "pmm", Code: kernel.ErrNotFound, Message: "no run of free pages large enough"}
}

// Allocate reserves the first available run of pages covering size bytes and
// returns the frame at its start. Page index 0 is never handed out: it is
// reserved as a permanent sentinel so that a zero Frame value (the type's
// zero value) can never alias a real allocation.
func (a *BitmapAllocator) Allocate(size mem.Size) (Frame, *kernel.Error) {
	pagesNeeded := sizeToPageCount(uint64(size))

	pageIndex, err := a.findPages(pagesNeeded, 1, a.totalPages)
	if err != nil {
		return InvalidFrame, err
	}

	address := uintptr(pageIndex) * uintptr(mem.PageSize)
	if err := a.ReserveRegion(address, uint64(size)); err != nil {
		return InvalidFrame, err
	}

	return Frame(pageIndex), nil
}

// AllocateFrame reserves a single page frame.
func (a *BitmapAllocator) AllocateFrame() (Frame, *kernel.Error) {
	return a.Allocate(mem.PageSize)
}

// Release frees size bytes starting at the given frame.
func (a *BitmapAllocator) Release(f Frame, size mem.Size) *kernel.Error {
	return a.ReleaseRegion(f.Address(), uint64(size))
}

// TotalPages returns the number of pages described by the bitmap.
func (a *BitmapAllocator) TotalPages() uint64 { return a.totalPages }

// UsedPages returns the number of pages currently marked in use.
func (a *BitmapAllocator) UsedPages() uint64 { return a.usedPages }

// FreePages returns the number of pages currently available for allocation.
func (a *BitmapAllocator) FreePages() uint64 { return a.totalPages - a.usedPages }
