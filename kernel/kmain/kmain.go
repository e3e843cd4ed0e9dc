// Package kmain orchestrates cold boot: it walks the Limine protocol
// responses, brings up the physical and virtual memory managers, installs
// segmentation and interrupt handling, indexes the kernel's own debug
// information, and hands control to the hardware probe. Main never
// returns; every failure on this path is fatal and goes through
// trace.Panicf, except that a missing or unparsable kernel file only skips
// indexing the debug information.
package kmain

import (
	"unsafe"

	"github.com/maxdevos49/osdev/kernel/cpu"
	"github.com/maxdevos49/osdev/kernel/debug/elf"
	"github.com/maxdevos49/osdev/kernel/debug/trace"
	"github.com/maxdevos49/osdev/kernel/goruntime"
	"github.com/maxdevos49/osdev/kernel/hal"
	"github.com/maxdevos49/osdev/kernel/hal/limine"
	"github.com/maxdevos49/osdev/kernel/irq"
	"github.com/maxdevos49/osdev/kernel/mem"
	"github.com/maxdevos49/osdev/kernel/mem/heap"
	"github.com/maxdevos49/osdev/kernel/mem/pmm"
	"github.com/maxdevos49/osdev/kernel/mem/vmm"
)

// runtimeHeapSize is the virtual address range reserved for the Go
// runtime's own allocations, separate from the kernel heap package manages
// explicitly for kernel data structures built before goruntime comes up.
const runtimeHeapSize = 64 * mem.Mb

// kernelHeapSize is the initial size of the explicit kernel heap used by
// the allocator in kernel/mem/heap.
const kernelHeapSize = 16 * mem.Mb

// These package-level vars are the request side of the Limine protocol
// handshake: the bootloader scans the binary's .requests section for
// structs shaped like these and fills in each Response pointer before
// jumping to the entry point. Placing them in that section specifically
// requires a linker-script/section directive the Go toolchain does not
// expose directly, and no such directive is part of this repository.
var (
	baseRevision  = limine.NewBaseRevision()
	memmapReq     = limine.NewMemmapRequest()
	hhdmReq       = limine.NewHHDMRequest()
	kernelAddrReq = limine.NewKernelAddressRequest()
	kernelFileReq = limine.NewKernelFileRequest()
)

var (
	physicalAllocator pmm.BitmapAllocator
	virtualMemory     *vmm.Manager
	kernelHeap        heap.Heap
	gdt               cpu.GDT
)

// Main is invoked by the architecture entry trampoline once the CPU is in
// long mode with a stack but before any kernel subsystem has run.
func Main() {
	if !baseRevision.Supported() {
		trace.Panicf("unsupported Limine base revision")
	}
	if memmapReq.Response == nil || hhdmReq.Response == nil || kernelAddrReq.Response == nil {
		trace.Panicf("bootloader did not answer a required Limine request")
	}

	hhdmOffset := uintptr(hhdmReq.Response.Offset)

	initPhysicalMemory(memmapReq.Response, hhdmOffset)
	initVirtualMemory(hhdmOffset)
	initKernelHeap()

	gdt.Init()
	irq.Init()
	trace.Install()

	if kernelFileReq.Response != nil && kernelFileReq.Response.File != nil {
		if header, err := elf.NewHeader(kernelFileReq.Response.File.Bytes()); err == nil {
			if err := trace.Init(header); err != nil {
				trace.Panicf("failed to index debug sections: %s", err.Message)
			}
		}
	}

	if err := goruntime.Init(virtualMemory, &physicalAllocator, runtimeHeapBase(), runtimeHeapSize); err != nil {
		trace.Panicf("failed to bring up the Go runtime: %s", err.Message)
	}

	hal.DetectHardware()

	for {
		cpu.Halt()
	}
}

// runtimeHeapBase picks a virtual range for the Go runtime immediately
// above the explicit kernel heap, so the two never overlap.
func runtimeHeapBase() uintptr {
	return kernelHeapBase + uintptr(kernelHeapSize)
}

// kernelHeapBase is the fixed virtual address the explicit kernel heap
// starts at, chosen well above any higher-half kernel image link address.
const kernelHeapBase = 0xffff_ffff_a000_0000

func initPhysicalMemory(resp *limine.MemmapResponse, hhdmOffset uintptr) {
	entries := resp.Entries()

	var totalMemory mem.Size
	for _, e := range entries {
		end := mem.Size(e.Base + e.Length)
		if end > totalMemory {
			totalMemory = end
		}
	}

	bitmapBytes := pmm.BitmapSizeBytes(totalMemory)

	var bitmapRegion *limine.MemmapEntry
	for i := range entries {
		e := &entries[i]
		if e.Kind != limine.MemmapUsable || e.Length < bitmapBytes {
			continue
		}
		if bitmapRegion == nil || e.Length < bitmapRegion.Length {
			bitmapRegion = e
		}
	}
	if bitmapRegion == nil {
		trace.Panicf("no usable memory-map region is large enough to hold the frame bitmap")
	}

	bitmapStorage := unsafe.Slice((*uint64)(unsafe.Pointer(uintptr(bitmapRegion.Base)+hhdmOffset)), int(bitmapBytes/8))
	physicalAllocator.Init(bitmapStorage, totalMemory)

	for _, e := range entries {
		if e.Kind == limine.MemmapUsable {
			if err := physicalAllocator.ReleaseRegion(uintptr(e.Base), e.Length); err != nil {
				trace.Panicf("failed to release usable region 0x%x: %s", e.Base, err.Message)
			}
		}
	}

	if err := physicalAllocator.ReserveRegion(uintptr(bitmapRegion.Base), bitmapBytes); err != nil {
		trace.Panicf("failed to reserve the frame bitmap's own footprint: %s", err.Message)
	}
}

func initVirtualMemory(hhdmOffset uintptr) {
	physBits, virtBits := cpu.AddressWidths()

	mgr, err := vmm.Bootstrap(&physicalAllocator, hhdmOffset, physBits, virtBits)
	if err != nil {
		trace.Panicf("failed to bootstrap the virtual memory manager: %s", err.Message)
	}

	if err := mgr.MarkReady(); err != nil {
		trace.Panicf("failed to finalize the virtual memory manager: %s", err.Message)
	}

	kernelVirtBase := kernelAddrReq.Response.VirtualBase
	kernelPhysBase := kernelAddrReq.Response.PhysicalBase
	const kernelImageSize = 16 * mem.Mb
	if err := mgr.MapRegion(uintptr(kernelPhysBase), uintptr(kernelVirtBase), kernelImageSize, vmm.FlagPresent|vmm.FlagWritable); err != nil {
		trace.Panicf("failed to map the kernel image: %s", err.Message)
	}

	for _, e := range memmapReq.Response.Entries() {
		switch e.Kind {
		case limine.MemmapBootloaderReclaimable, limine.MemmapFramebuffer:
			if err := mgr.MapRegion(uintptr(e.Base), uintptr(e.Base)+hhdmOffset, mem.Size(e.Length), vmm.FlagPresent|vmm.FlagWritable|vmm.FlagNoExecute); err != nil {
				trace.Panicf("failed to map bootloader region 0x%x: %s", e.Base, err.Message)
			}
		}
	}

	cpu.WriteCR3(mgr.PML4PhysAddr())
	virtualMemory = mgr
}

func initKernelHeap() {
	if err := kernelHeap.Init(virtualMemory, &physicalAllocator, kernelHeapBase, kernelHeapSize); err != nil {
		trace.Panicf("failed to initialize the kernel heap: %s", err.Message)
	}
}
