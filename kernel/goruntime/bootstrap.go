// Package goruntime hijacks the pieces of the Go runtime that assume a
// hosted OS underneath them (virtual memory reservation, page mapping,
// monotonic time, entropy) and redirects them at this kernel's own vmm and
// physical allocator, so that heap allocation, maps, and interfaces become
// usable once Init returns.
package goruntime

import (
	"unsafe"

	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/mem"
	"github.com/maxdevos49/osdev/kernel/mem/pmm"
	"github.com/maxdevos49/osdev/kernel/mem/vmm"
)

var (
	manager  *vmm.Manager
	physical *pmm.BitmapAllocator

	// reserveNext is a bump pointer over a fixed virtual range set aside
	// for the Go runtime's own heap, separate from the kernel heap vmm/heap
	// manages explicitly. sysReserve only ever grows it; nothing below it
	// is ever handed out twice.
	reserveNext uintptr
	reserveEnd  uintptr

	// prngSeed seeds the pseudo-random stream getRandomData returns, since
	// there is no entropy source to read from yet.
	prngSeed = 0xdeadc0de
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// Init installs mgr and alloc as the backing virtual/physical memory
// managers for the Go runtime hooks below, reserving [base, base+size) as
// the runtime's own address space, then runs the runtime bring-up sequence
// so that heap allocation, maps, and interfaces become usable.
func Init(mgr *vmm.Manager, alloc *pmm.BitmapAllocator, base uintptr, size mem.Size) *kernel.Error {
	manager = mgr
	physical = alloc
	reserveNext = base
	reserveEnd = base + uintptr(size)

	mallocInit()
	algInit()       // hash implementation for map keys
	modulesInit()   // provides activeModules
	typeLinksInit() // uses maps, activeModules
	itabsInit()     // uses activeModules

	return nil
}

func pageRoundUp(size uintptr) mem.Size {
	return (mem.Size(size) + mem.PageSize - 1) &^ (mem.PageSize - 1)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := uintptr(pageRoundUp(size))
	if reserveNext+regionSize > reserveEnd {
		*reserved = false
		return nil
	}

	start := reserveNext
	reserveNext += regionSize
	*reserved = true
	return unsafe.Pointer(start)
}

// sysMap establishes a mapping for a region previously reserved via
// sysReserve, backing it with freshly allocated physical frames (this
// kernel's vmm has no copy-on-write zero page to lazily fault in).
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap called with reserved=false")
	}

	regionStart := (uintptr(virtAddr) + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	regionSize := pageRoundUp(size)

	if err := mapFreshPages(regionStart, regionSize); err != nil {
		return nil
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStart)
}

// sysAlloc reserves a fresh virtual range and backs it with physical frames
// in one step, used for allocations the runtime did not pre-reserve.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := pageRoundUp(size)
	if reserveNext+uintptr(regionSize) > reserveEnd {
		return nil
	}
	regionStart := reserveNext
	reserveNext += uintptr(regionSize)

	if err := mapFreshPages(regionStart, regionSize); err != nil {
		return nil
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStart)
}

func mapFreshPages(virtAddr uintptr, size mem.Size) *kernel.Error {
	pageCount := uintptr(size) >> mem.PageShift
	flags := vmm.FlagPresent | vmm.FlagWritable | vmm.FlagNoExecute

	for i := uintptr(0); i < pageCount; i++ {
		frame, err := physical.AllocateFrame()
		if err != nil {
			return err
		}
		va := virtAddr + i*uintptr(mem.PageSize)
		if err := manager.MapRegion(frame.Address(), va, mem.PageSize, flags); err != nil {
			return err
		}
	}
	return nil
}

// nanotime returns a monotonically increasing clock value. A real
// timekeeper has not been wired up yet, so this always reports the same
// instant; good enough for the span-allocation paths that call it during
// bring-up, not for anything timing-sensitive.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates r with a non-cryptographic pseudo-random stream,
// standing in for runtime.getRandomData's usual /dev/random read.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := range r {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

func init() {
	// Dummy calls so the compiler keeps these symbols live even though
	// nothing in this package calls them directly; the linker's
	// go:redirect-from rewriting is what actually wires them in.
	var (
		reserved bool
		stat     uint64
	)
	sysReserve(nil, 0, &reserved)
	sysMap(nil, 0, reserved, &stat)
	sysAlloc(0, &stat)
	getRandomData(nil)
	stat = nanotime()
}
