// Package vmm implements the kernel's virtual memory manager: a 4-level
// (PML4/PDP/PD/PT) amd64 page table walker backed by a pre-seeded pool of
// blank page-table frames.
//
// The pool exists to break a circularity: mapping a new virtual address can
// require allocating a fresh page table, but pmm.BitmapAllocator hands back
// physical frames only, and turning one into a usable *table requires it to
// already be mapped into the address space the manager is building. Seeding
// a pool of pre-zeroed, pre-addressable frames before the manager is asked
// to map anything lets every page-table allocation be satisfied from the
// pool instead of recursing back into Map. Manager tracks whether the pool
// is allowed to restock itself (Ready) separately from whether it has one
// (Bootstrap): until MarkReady has run, map calls silently drain the pool
// without attempting to refill it, avoiding the same recursion while
// MarkReady maps the PML4 and pool frames themselves; once the manager is
// Ready, every Map call tops the pool back up to poolSize frames before
// returning.
package vmm

import (
	"unsafe"

	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/cpu"
	"github.com/maxdevos49/osdev/kernel/mem"
	"github.com/maxdevos49/osdev/kernel/mem/pmm"
)

// poolSize is the number of spare page-table frames the manager keeps ready
// for on-demand table allocation.
const poolSize = 10

// entriesPerTable is the number of 8-byte entries in one page table.
const entriesPerTable = 512

type pageTable [entriesPerTable]pageTableEntry

// Manager owns the active PML4 table and maps virtual addresses to physical
// frames four levels deep, matching the amd64 long-mode paging format.
type Manager struct {
	allocator *pmm.BitmapAllocator

	pml4Frame  pmm.Frame
	hhdmOffset uintptr
	physBits   uint8
	virtBits   uint8

	pool     [poolSize]pmm.Frame
	poolNext uint64
	ready    bool
}

// Bootstrap allocates and zeroes a fresh PML4 table plus poolSize spare page
// table frames, returning a Manager that can Map addresses but will not
// restock its own pool as it consumes frames from it. hhdmOffset must be the
// offset Limine reports for its higher-half direct map; physBits/virtBits
// come from cpu.AddressWidths.
func Bootstrap(allocator *pmm.BitmapAllocator, hhdmOffset uintptr, physBits, virtBits uint8) (*Manager, *kernel.Error) {
	m := &Manager{
		allocator:  allocator,
		hhdmOffset: hhdmOffset,
		physBits:   physBits,
		virtBits:   virtBits,
	}

	pml4Frame, err := allocator.AllocateFrame()
	if err != nil {
		return nil, err
	}
	m.pml4Frame = pml4Frame
	kernel.Memset(m.tableAddr(pml4Frame), 0, uintptr(mem.PageSize))

	for i := range m.pool {
		f, err := allocator.AllocateFrame()
		if err != nil {
			return nil, err
		}
		kernel.Memset(m.tableAddr(f), 0, uintptr(mem.PageSize))
		m.pool[i] = f
	}

	return m, nil
}

// tableAddr returns the virtual address a page-table frame is addressable
// at: its physical address plus the HHDM offset. Once this PML4 is active,
// this is only valid for frames the manager has itself mapped at that
// address: MarkReady maps the PML4 and every frame Bootstrap put in the
// pool, and maybeRestockPool maps each frame it adds.
func (m *Manager) tableAddr(f pmm.Frame) uintptr {
	return f.Address() + m.hhdmOffset
}

func (m *Manager) tablePtr(f pmm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(m.tableAddr(f)))
}

// MarkReady maps the manager's own PML4 and pool frames into the address
// space they describe (so table walks remain valid once this PML4 becomes
// active), enables pool restocking and refills the slots its own mappings
// consumed. Callers must invoke this exactly once, right after Bootstrap and
// before any other mapping, and before switching CR3 to this manager's PML4.
func (m *Manager) MarkReady() *kernel.Error {
	// Copy the pool first: the mappings below take page tables from it, and
	// those frames need their HHDM mapping as much as the unused ones.
	frames := m.pool
	if err := m.MapRegion(m.pml4Frame.Address(), m.tableAddr(m.pml4Frame), mem.PageSize, FlagWritable); err != nil {
		return err
	}
	for _, f := range frames {
		if f == pmm.InvalidFrame {
			continue
		}
		if err := m.MapRegion(f.Address(), m.tableAddr(f), mem.PageSize, FlagWritable); err != nil {
			return err
		}
	}
	m.ready = true
	return m.maybeRestockPool()
}

// PML4PhysAddr returns the physical address of the manager's PML4 table, to
// be loaded into CR3 by the caller (preserving CR3's low 12 flag bits).
func (m *Manager) PML4PhysAddr() uintptr {
	return m.pml4Frame.Address()
}

// getNewTable pops the next frame from the pool in round-robin order. The
// pool is sized generously enough that ordinary mapping sequences never
// observe an already-reclaimed (InvalidFrame) slot; maybeRestockPool refills any
// slot a caller drains before the pool would wrap back around to it.
func (m *Manager) getNewTable() pmm.Frame {
	idx := m.poolNext % poolSize
	m.poolNext++

	f := m.pool[idx]
	m.pool[idx] = pmm.InvalidFrame
	return f
}

// maybeRestockPool refills every empty pool slot from the allocator, mapping
// each new frame at its own HHDM address so subsequent table walks can reach
// it. It is a no-op until MarkReady has run, which is what lets MarkReady
// drain the pool while mapping the PML4 and pool frames without
// immediately trying to allocate more frames through a manager that is not
// fully wired up yet.
func (m *Manager) maybeRestockPool() *kernel.Error {
	if !m.ready {
		return nil
	}

	for i := range m.pool {
		if m.pool[i] != pmm.InvalidFrame {
			continue
		}

		f, err := m.allocator.AllocateFrame()
		if err != nil {
			return err
		}

		// Assign into the pool before mapping: if filling in this slot's
		// own mapping needs a table from another (still full) pool slot,
		// that recursive call must never see this slot as available.
		m.pool[i] = f

		if err := m.mapPage(f.Address(), m.tableAddr(f), FlagWritable); err != nil {
			return err
		}
		kernel.Memset(m.tableAddr(f), 0, uintptr(mem.PageSize))
	}

	return nil
}

func pml4Index(virtAddr uintptr) uintptr { return (virtAddr >> 39) & 0x1ff }
func pdpIndex(virtAddr uintptr) uintptr  { return (virtAddr >> 30) & 0x1ff }
func pdIndex(virtAddr uintptr) uintptr   { return (virtAddr >> 21) & 0x1ff }
func ptIndex(virtAddr uintptr) uintptr   { return (virtAddr >> 12) & 0x1ff }

// nextLevelTable returns the table entry's child table, allocating a fresh
// one from the pool and linking it in if the entry was not present.
func (m *Manager) nextLevelTable(entry *pageTableEntry) *pageTable {
	if !entry.HasFlags(FlagPresent) {
		child := m.getNewTable()
		entry.SetFrame(child, m.physBits)
		entry.SetFlags(FlagPresent | FlagWritable)
		return m.tablePtr(child)
	}
	return m.tablePtr(entry.Frame(m.physBits))
}

// ErrAlreadyMapped is returned by mapPage when the target virtual page
// already has a present PTE.
var ErrAlreadyMapped = &kernel.Error{Module: "vmm", Code: kernel.ErrAlreadyUsed, Message: "virtual page is already mapped"}

// mapPage maps a single 4KiB page, walking (and extending as needed) all
// four table levels.
func (m *Manager) mapPage(physAddr, virtAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	pml4 := m.tablePtr(m.pml4Frame)
	pdp := m.nextLevelTable(&pml4[pml4Index(virtAddr)])
	pd := m.nextLevelTable(&pdp[pdpIndex(virtAddr)])
	pt := m.nextLevelTable(&pd[pdIndex(virtAddr)])

	pte := &pt[ptIndex(virtAddr)]
	if pte.HasFlags(FlagPresent) {
		return ErrAlreadyMapped
	}

	pte.SetFrame(pmm.FrameFromAddress(physAddr), m.physBits)
	pte.SetFlags(flags | FlagPresent)
	cpu.FlushTLBEntry(virtAddr)

	return m.maybeRestockPool()
}

// MapRegion maps size bytes starting at physAddr to virtAddr, one page at a
// time, failing (without rolling back any pages already mapped) on the
// first error.
func (m *Manager) MapRegion(physAddr, virtAddr uintptr, size mem.Size, flags PageTableEntryFlag) *kernel.Error {
	for off := mem.Size(0); off < size; off += mem.PageSize {
		if err := m.mapPage(physAddr+uintptr(off), virtAddr+uintptr(off), flags); err != nil {
			return err
		}
	}
	return nil
}

// Translate walks the table for virtAddr and returns the physical address it
// maps to, or ErrInvalidMapping if no page is present for it.
func (m *Manager) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pml4 := m.tablePtr(m.pml4Frame)
	pml4e := &pml4[pml4Index(virtAddr)]
	if !pml4e.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	pdp := m.tablePtr(pml4e.Frame(m.physBits))
	pdpe := &pdp[pdpIndex(virtAddr)]
	if !pdpe.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	pd := m.tablePtr(pdpe.Frame(m.physBits))
	pde := &pd[pdIndex(virtAddr)]
	if !pde.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	pt := m.tablePtr(pde.Frame(m.physBits))
	pte := &pt[ptIndex(virtAddr)]
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Frame(m.physBits).Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}

// ErrInvalidMapping is returned when a virtual address has no present
// mapping.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Code: kernel.ErrNotFound, Message: "virtual address is not mapped"}
