// Package limine defines the typed request/response records of the Limine
// boot protocol. The kernel's entry point places one instance of each
// wanted request struct in the `.requests` linker section; the bootloader
// walks that section before transferring control and fills in the
// `Response` pointer of every request it recognizes.
package limine

import "unsafe"

// commonMagic prefixes every Limine request ID.
var commonMagic = [2]uint64{0xc7b1dd30df4c8b88, 0x0a82e883a194f07b}

// MemmapEntryKind classifies one memory-map entry.
type MemmapEntryKind uint64

const (
	MemmapUsable MemmapEntryKind = iota
	MemmapReserved
	MemmapACPIReclaimable
	MemmapACPINVS
	MemmapBadMemory
	MemmapBootloaderReclaimable
	MemmapKernelAndModules
	MemmapFramebuffer
)

// MemmapEntry mirrors struct limine_memmap_entry.
type MemmapEntry struct {
	Base   uint64
	Length uint64
	Kind   MemmapEntryKind
}

// BaseRevision negotiates the protocol revision with the bootloader. The
// kernel places BaseRevision{ID: [2]uint64{0xf9562b2d5c95a6c8,
// 0x6a7b384944536bdc}, Revision: 2} in .requests; after control returns,
// Revision reads back 0 if the bootloader accepted it.
type BaseRevision struct {
	ID       [2]uint64
	Revision uint64
}

// Supported reports whether the bootloader accepted the requested base
// revision.
func (b *BaseRevision) Supported() bool { return b.Revision == 0 }

// NewBaseRevision returns a BaseRevision request for protocol revision 2.
func NewBaseRevision() BaseRevision {
	return BaseRevision{ID: [2]uint64{0xf9562b2d5c95a6c8, 0x6a7b384944536bdc}, Revision: 2}
}

// requestHeader is the common prefix of every Limine request struct.
type requestHeader struct {
	ID       [4]uint64
	Revision uint64
}

// MemmapResponse mirrors struct limine_memmap_response.
type MemmapResponse struct {
	Revision uint64
	count    uint64
	entries  *unsafe.Pointer // **limine_memmap_entry
}

// Entries materializes the response's entry array as a Go slice. Valid
// only after the bootloader has populated the response.
func (r *MemmapResponse) Entries() []MemmapEntry {
	if r == nil || r.entries == nil {
		return nil
	}
	ptrs := unsafe.Slice((**MemmapEntry)(unsafe.Pointer(r.entries)), int(r.count))
	out := make([]MemmapEntry, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// MemmapRequest mirrors struct limine_memmap_request.
type MemmapRequest struct {
	header   requestHeader
	Response *MemmapResponse
}

// NewMemmapRequest builds a zeroed memmap request ready to be placed in
// .requests.
func NewMemmapRequest() MemmapRequest {
	return MemmapRequest{header: requestHeader{ID: [4]uint64{
		commonMagic[0], commonMagic[1], 0x67cf3d9d378a806f, 0xe304acdfc50c3c62,
	}}}
}

// HHDMResponse mirrors struct limine_hhdm_response.
type HHDMResponse struct {
	Revision uint64
	Offset   uint64
}

// HHDMRequest mirrors struct limine_hhdm_request.
type HHDMRequest struct {
	header   requestHeader
	Response *HHDMResponse
}

// NewHHDMRequest builds a zeroed higher-half-direct-map request.
func NewHHDMRequest() HHDMRequest {
	return HHDMRequest{header: requestHeader{ID: [4]uint64{
		commonMagic[0], commonMagic[1], 0x48dcf1cb8ad2b852, 0x63984e959a98244b,
	}}}
}

// KernelAddressResponse mirrors struct limine_kernel_address_response.
type KernelAddressResponse struct {
	Revision        uint64
	PhysicalBase uint64
	VirtualBase  uint64
}

// KernelAddressRequest mirrors struct limine_kernel_address_request.
type KernelAddressRequest struct {
	header   requestHeader
	Response *KernelAddressResponse
}

// NewKernelAddressRequest builds a zeroed kernel-address request.
func NewKernelAddressRequest() KernelAddressRequest {
	return KernelAddressRequest{header: requestHeader{ID: [4]uint64{
		commonMagic[0], commonMagic[1], 0x71ba76863cc55f63, 0xb2644a48c516a487,
	}}}
}

// File mirrors struct limine_file: a pointer/length view over a file the
// bootloader loaded into memory, plus its path and command line.
type File struct {
	Revision     uint64
	Address      unsafe.Pointer
	Size         uint64
	Path         *byte
	CmdLine      *byte
	mediaType    uint32
	_            uint32
	tftpIP       uint32
	tftpPort     uint32
	partitionIdx uint32
	mbrDiskID    uint32
	gptDiskUUID  [16]byte
	gptPartUUID  [16]byte
	partUUID     [16]byte
}

// Bytes returns the file contents as a Go byte slice.
func (f *File) Bytes() []byte {
	if f == nil || f.Address == nil {
		return nil
	}
	return unsafe.Slice((*byte)(f.Address), int(f.Size))
}

// KernelFileResponse mirrors struct limine_kernel_file_response.
type KernelFileResponse struct {
	Revision uint64
	File     *File
}

// KernelFileRequest mirrors struct limine_kernel_file_request.
type KernelFileRequest struct {
	header   requestHeader
	Response *KernelFileResponse
}

// NewKernelFileRequest builds a zeroed kernel-file request, used to locate
// the kernel's own ELF/DWARF sections for the symbolicator.
func NewKernelFileRequest() KernelFileRequest {
	return KernelFileRequest{header: requestHeader{ID: [4]uint64{
		commonMagic[0], commonMagic[1], 0xad97e90e83f1ed67, 0x31eb5d1c5ff23b69,
	}}}
}

// Framebuffer mirrors struct limine_framebuffer.
type Framebuffer struct {
	Address         unsafe.Pointer
	Width           uint64
	Height          uint64
	Pitch           uint64
	BitsPerPixel    uint16
	MemoryModel     uint8
	RedMaskSize     uint8
	RedMaskShift    uint8
	GreenMaskSize   uint8
	GreenMaskShift  uint8
	BlueMaskSize    uint8
	BlueMaskShift   uint8
	_               [7]uint8
	EDIDSize        uint64
	EDID            unsafe.Pointer
}

// FramebufferResponse mirrors struct limine_framebuffer_response.
type FramebufferResponse struct {
	Revision        uint64
	count           uint64
	framebuffers    *unsafe.Pointer
}

// Framebuffers materializes the response's framebuffer array.
func (r *FramebufferResponse) Framebuffers() []*Framebuffer {
	if r == nil || r.framebuffers == nil {
		return nil
	}
	ptrs := unsafe.Slice((**Framebuffer)(unsafe.Pointer(r.framebuffers)), int(r.count))
	out := make([]*Framebuffer, len(ptrs))
	copy(out, ptrs)
	return out
}

// FramebufferRequest mirrors struct limine_framebuffer_request.
type FramebufferRequest struct {
	header   requestHeader
	Response *FramebufferResponse
}

// NewFramebufferRequest builds a zeroed framebuffer request.
func NewFramebufferRequest() FramebufferRequest {
	return FramebufferRequest{header: requestHeader{ID: [4]uint64{
		commonMagic[0], commonMagic[1], 0x9d5827dcd881dd75, 0xa3148604f6fab11b,
	}}}
}
