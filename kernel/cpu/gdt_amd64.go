package cpu

import "unsafe"

// Segment privilege levels, matching the CPL encoding used by the segment
// selector and descriptor privilege-level fields.
const (
	PrivilegeKernel uint8 = 0
	PrivilegeUser   uint8 = 3
)

// Segment selector offsets into the GDT, expressed in bytes as the CPU
// expects them loaded into CS/DS/SS.
const (
	NullSegmentSelector   uint16 = 0x00
	KernelCodeSelector    uint16 = 0x08
	KernelDataSelector    uint16 = 0x10
	UserCodeSelector      uint16 = 0x18
	UserDataSelector      uint16 = 0x20
	gdtEntryCount                = 5
)

// descriptorFlags are the access-byte and flag-nibble bits shared by every
// code/data descriptor this kernel installs: present, 64-bit long mode,
// 4KiB granularity, full limit.
const (
	accessPresent    = 1 << 7
	accessSegment    = 1 << 4
	accessCode       = 1 << 3
	accessConforming = 1 << 2
	accessWritable   = 1 << 1
	accessAccessed   = 1 << 0

	flagGranularity = 1 << 3
	flagLongMode    = 1 << 1
)

// GDT is the kernel's global descriptor table: a null descriptor followed by
// flat kernel and user code/data descriptors. Every segment spans the full
// 4GiB limit (ignored in long mode, but required to be 0xfffff per the CPU
// manual) with base 0 — in long mode the base is not consulted for code or
// data fetches, so this table exists only to supply privilege levels and the
// long-mode bit to CS.
type GDT struct {
	entries [gdtEntryCount]uint64
}

// codeDescriptor packs a 64-bit code-segment descriptor for the given
// privilege level. conforming controls whether lower-privilege code may
// transfer into this segment without a privilege change.
func codeDescriptor(dpl uint8, conforming bool) uint64 {
	access := uint64(accessPresent | accessSegment | accessCode | accessAccessed)
	access |= uint64(dpl&0x3) << 5
	if conforming {
		access |= accessConforming
	} else {
		access |= 1 << 1 // readable
	}

	flags := uint64(flagGranularity | flagLongMode)

	return 0xffff | // limit_low
		(0 << 16) | // base_low
		(0 << 32) | // base_mid
		(access << 40) |
		(0xf << 48) | // limit_high
		(flags << 52) |
		(0 << 56) // base_high
}

// dataDescriptor packs a 64-bit data-segment descriptor for the given
// privilege level.
func dataDescriptor(dpl uint8) uint64 {
	access := uint64(accessPresent | accessSegment | accessWritable)
	access |= uint64(dpl&0x3) << 5

	flags := uint64(flagGranularity | flagLongMode)

	return 0xffff |
		(0 << 16) |
		(0 << 32) |
		(access << 40) |
		(0xf << 48) |
		(flags << 52) |
		(0 << 56)
}

// Init populates the table entries and loads it into GDTR, then reloads the
// segment registers so CS points at the kernel code descriptor.
func (g *GDT) Init() {
	g.entries[0] = 0 // null descriptor
	g.entries[1] = codeDescriptor(PrivilegeKernel, false)
	g.entries[2] = dataDescriptor(PrivilegeKernel)
	g.entries[3] = codeDescriptor(PrivilegeUser, false)
	g.entries[4] = dataDescriptor(PrivilegeUser)

	loadGDT(uint16(len(g.entries)*8-1), uintptr(unsafe.Pointer(&g.entries[0])))
	reloadSegments(KernelCodeSelector, KernelDataSelector)
}

// loadGDT executes LGDT against a {limit, base} descriptor built from the
// given table size and address, then is followed by reloadSegments to flush
// the stale selectors cached in CS/DS/SS/ES/FS/GS.
func loadGDT(limit uint16, base uintptr)

// reloadSegments performs the far jump required to load a new CS, and
// reloads DS/SS/ES/FS/GS with the given data selector.
func reloadSegments(codeSelector, dataSelector uint16)
