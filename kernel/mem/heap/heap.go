// Package heap implements the kernel heap: an intrusive, doubly-linked
// free-list allocator. Every block is prefixed by a blockHeader living at
// the start of its storage; Alloc hands back the address just past that
// header, and Free recovers the header by subtracting its size back off the
// pointer it was given.
package heap

import (
	"unsafe"

	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/mem"
	"github.com/maxdevos49/osdev/kernel/mem/pmm"
	"github.com/maxdevos49/osdev/kernel/mem/vmm"
)

// blockHeader precedes every block of heap storage, free or allocated.
// previous/next walk the heap in address order; nextFree walks only the free
// blocks, letting Alloc skip over allocated blocks in one hop. A zero value
// in any of the three link fields means "no such block", mirroring the NULL
// sentinel used by the pointer fields this type is modeled on.
type blockHeader struct {
	length   uint64
	free     uint64
	previous uintptr
	next     uintptr
	nextFree uintptr
}

const headerSize = unsafe.Sizeof(blockHeader{})

// minAllocAlignment is the minimum granularity Alloc rounds requested sizes
// up to.
const minAllocAlignment = 8

// Heap is a single contiguous, growable region of kernel virtual memory
// managed as an intrusive free-list.
type Heap struct {
	vmm       *vmm.Manager
	allocator *pmm.BitmapAllocator

	base uintptr
	size mem.Size

	root      uintptr
	firstFree uintptr
}

func blockAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

func addrOf(b *blockHeader) uintptr {
	return uintptr(unsafe.Pointer(b))
}

// Init reserves initialSize bytes of physical memory, maps it at baseVirtAddr
// through vmm, and seeds it with a single free block spanning the whole
// region.
func (h *Heap) Init(mgr *vmm.Manager, allocator *pmm.BitmapAllocator, baseVirtAddr uintptr, initialSize mem.Size) *kernel.Error {
	h.vmm = mgr
	h.allocator = allocator
	h.base = baseVirtAddr

	phys, err := allocator.Allocate(initialSize)
	if err != nil {
		return err
	}
	if err := mgr.MapRegion(phys.Address(), baseVirtAddr, initialSize, vmm.FlagWritable); err != nil {
		return err
	}
	h.size = initialSize

	root := blockAt(baseVirtAddr)
	root.length = uint64(initialSize) - uint64(headerSize)
	root.free = 1
	root.previous = 0
	root.next = 0
	root.nextFree = 0

	h.root = baseVirtAddr
	h.firstFree = baseVirtAddr

	return nil
}

// expand grows the heap to accommodate at least minSize additional bytes of
// usable space, doubling the heap's current size (plus one page) as the
// teacher's general-purpose allocators do, whichever is larger.
//
// If the last block in the heap is already free, its length simply grows to
// absorb the new region. If it is allocated, a fresh free block describing
// the new region is appended instead of aborting: an allocated tail block
// is an entirely ordinary state (the heap was simply full right up to its
// end), not a corruption, so there is no reason expansion cannot continue.
func (h *Heap) expand(minSize uint64) *kernel.Error {
	newSize := minSize
	if double := uint64(h.size) * 2; double > newSize {
		newSize = double
	}
	newSize += 0x1000

	phys, err := h.allocator.Allocate(mem.Size(newSize))
	if err != nil {
		return err
	}

	// MapRegion maps whole pages, so the mapped range ends at h.size rounded
	// up to a page boundary; the new pages go after it.
	mapped := (uint64(h.size) + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
	virtAddr := h.base + uintptr(mapped)
	if err := h.vmm.MapRegion(phys.Address(), virtAddr, mem.Size(newSize), vmm.FlagWritable); err != nil {
		return err
	}
	h.size = mem.Size(mapped + newSize)

	last := blockAt(h.root)
	for last.next != 0 {
		last = blockAt(last.next)
	}

	if last.free != 0 {
		last.length += newSize
		return nil
	}

	grown := blockAt(addrOf(last) + headerSize + uintptr(last.length))
	grown.length = newSize - uint64(headerSize)
	grown.free = 1
	grown.previous = addrOf(last)
	grown.next = 0
	grown.nextFree = 0
	last.next = addrOf(grown)

	h.appendFree(grown)
	return nil
}

// appendFree links b onto the end of the free list.
func (h *Heap) appendFree(b *blockHeader) {
	if h.firstFree == 0 {
		h.firstFree = addrOf(b)
		return
	}
	tail := blockAt(h.firstFree)
	for tail.nextFree != 0 {
		tail = blockAt(tail.nextFree)
	}
	tail.nextFree = addrOf(b)
}

func roundUp8(size uintptr) uint64 {
	rem := size % minAllocAlignment
	if rem != 0 {
		size += minAllocAlignment - rem
	}
	return uint64(size)
}

// Alloc returns a zeroed region of at least size bytes, growing the heap if
// no free block is currently large enough.
func (h *Heap) Alloc(size uintptr) (uintptr, *kernel.Error) {
	need := roundUp8(size)

	block := h.findFree(need)
	if block == nil {
		if err := h.expand(need); err != nil {
			return 0, err
		}
		block = h.findFree(need)
		if block == nil {
			return 0, &kernel.Error{Module: "heap", Code: kernel.ErrInsufficientSpace, Message: "heap expansion did not yield a large enough block"}
		}
	}

	ptr := h.takeBlock(block, need)
	kernel.Memset(ptr, 0, uintptr(need))
	return ptr, nil
}

func (h *Heap) findFree(need uint64) *blockHeader {
	addr := h.firstFree
	for addr != 0 {
		b := blockAt(addr)
		if b.length >= need {
			return b
		}
		addr = b.nextFree
	}
	return nil
}

// takeBlock marks block (known to be free and at least need bytes long) as
// allocated, splitting off a new free block from any excess space, and
// returns the address of its payload.
func (h *Heap) takeBlock(block *blockHeader, need uint64) uintptr {
	if block.length == need {
		block.free = 0
		if addrOf(block) == h.firstFree {
			h.firstFree = block.nextFree
		}
		return addrOf(block) + headerSize
	}

	cleaved := blockAt(addrOf(block) + headerSize + uintptr(need))
	cleaved.length = block.length - uint64(headerSize) - need
	cleaved.free = 1
	cleaved.previous = addrOf(block)
	cleaved.next = block.next
	cleaved.nextFree = block.nextFree

	if cleaved.next != 0 {
		blockAt(cleaved.next).previous = addrOf(cleaved)
	}

	block.length = need
	block.free = 0
	block.next = addrOf(cleaved)
	block.nextFree = addrOf(cleaved)

	if block.previous != 0 {
		blockAt(block.previous).nextFree = addrOf(cleaved)
	}

	if addrOf(cleaved) < h.firstFree || addrOf(block) == h.firstFree {
		h.firstFree = addrOf(cleaved)
	}

	return addrOf(block) + headerSize
}

// Free returns the block backing ptr (previously returned by Alloc) to the
// free list, coalescing with its neighbor blocks if they are also free.
func (h *Heap) Free(ptr uintptr) {
	block := blockAt(ptr - uintptr(headerSize))
	block.free = 1

	if h.firstFree == 0 || addrOf(block) < h.firstFree {
		h.firstFree = addrOf(block)
	}
	if block.previous != 0 {
		blockAt(block.previous).nextFree = addrOf(block)
	}

	if block.next != 0 {
		next := blockAt(block.next)
		if next.free != 0 {
			if next.next != 0 {
				blockAt(next.next).previous = addrOf(block)
			}
			block.length = block.length + uint64(headerSize) + next.length
			block.next = next.next
			block.nextFree = next.nextFree
		}
	}

	if block.previous != 0 {
		prev := blockAt(block.previous)
		if prev.free != 0 {
			prev.length = prev.length + uint64(headerSize) + block.length
			prev.free = 1
			prev.next = block.next
			prev.nextFree = block.nextFree
			if block.next != 0 {
				blockAt(block.next).previous = addrOf(prev)
			}
			if addrOf(prev) < h.firstFree {
				h.firstFree = addrOf(prev)
			}
		}
	}
}
