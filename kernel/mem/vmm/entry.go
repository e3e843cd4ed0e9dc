package vmm

import (
	"github.com/maxdevos49/osdev/kernel/mem"
	"github.com/maxdevos49/osdev/kernel/mem/pmm"
)

// PageTableEntryFlag describes a flag applied to a page table entry at any
// of the four levels (PML4, PDP, PD, PT).
type PageTableEntryFlag uintptr

// Flags shared by every page table entry. Execute-disable lives in bit 63
// and is only meaningful once NXE is enabled in EFER, which this kernel does
// not toggle itself; goruntime and kmain set it on data-only mappings.
const (
	FlagPresent PageTableEntryFlag = 1 << 0
	FlagWritable PageTableEntryFlag = 1 << 1
	FlagUser     PageTableEntryFlag = 1 << 2
	FlagWriteThrough PageTableEntryFlag = 1 << 3
	FlagCacheDisable PageTableEntryFlag = 1 << 4
	FlagAccessed     PageTableEntryFlag = 1 << 5
	FlagDirty        PageTableEntryFlag = 1 << 6
	FlagHuge         PageTableEntryFlag = 1 << 7
	FlagNoExecute    PageTableEntryFlag = 1 << 63
)

// pageTableEntry is a raw 64-bit entry in any of the four page-table levels.
// Bits 12-51 hold the physical frame index (masked to the CPU's reported
// physical address width); the remaining bits are flags.
type pageTableEntry uint64

// HasFlags reports whether every bit in flags is set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

// SetFlags sets the given bits, leaving the frame address untouched.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags clears the given bits, leaving the frame address untouched.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ uint64(flags))
}

// frameMask returns the bitmask covering the physical-frame-index field for
// a CPU that reports physBits physical address bits.
func frameMask(physBits uint8) uint64 {
	return (uint64(1)<<(physBits-mem.PageShift) - 1) << mem.PageShift
}

// Frame returns the physical frame this entry points to, using physBits (as
// reported by cpu.AddressWidths) to mask out the non-address bits.
func (pte pageTableEntry) Frame(physBits uint8) pmm.Frame {
	return pmm.FrameFromAddress(uintptr(uint64(pte) & frameMask(physBits)))
}

// SetFrame updates the entry to point at frame, preserving its flag bits.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame, physBits uint8) {
	*pte = pageTableEntry((uint64(*pte) &^ frameMask(physBits)) | uint64(frame.Address()))
}
