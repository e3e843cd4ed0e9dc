// Package elf provides just enough ELF64 parsing to let the symbolicator
// locate DWARF debug sections inside the kernel's own image, as supplied by
// the bootloader's kernel-file request. It is not a general-purpose ELF
// library: there is no relocation, symbol table, or program-header support.
package elf

import (
	"encoding/binary"

	"github.com/maxdevos49/osdev/kernel"
)

const (
	identMagic0   = 0x7f
	identMagic1   = 'E'
	identMagic2   = 'L'
	identMagic3   = 'F'
	identClass    = 4
	identData     = 5
	identNIdent   = 16
	classELF64    = 2
	dataLittleEnd = 1
)

// ehdrSize is the on-disk size of an ELF64 file header.
const ehdrSize = 64

// shdrSize is the on-disk size of one ELF64 section header entry.
const shdrSize = 64

// Header is the subset of the ELF64 file header this package exposes.
type Header struct {
	Type      uint16
	Machine   uint16
	Entry     uint64
	SHOff     uint64
	SHEntSize uint16
	SHNum     uint16
	SHStrNdx  uint16

	data []byte
}

// Section describes one ELF64 section header entry.
type Section struct {
	NameOffset uint32
	Type       uint32
	Flags      uint64
	Addr       uint64
	Offset     uint64
	Size       uint64
	Link       uint32
	Info       uint32
	AddrAlign  uint64
	EntSize    uint64
}

var (
	errNotELF       = &kernel.Error{Module: "elf", Code: kernel.ErrUnsupported, Message: "not an ELF file"}
	errNot64Bit     = &kernel.Error{Module: "elf", Code: kernel.ErrUnsupported, Message: "ELF file is not 64-bit"}
	errNotLittleEnd = &kernel.Error{Module: "elf", Code: kernel.ErrUnsupported, Message: "ELF file is not little-endian"}
	errTruncated    = &kernel.Error{Module: "elf", Code: kernel.ErrOutOfBounds, Message: "ELF file is truncated"}
)

// NewHeader parses the ELF64 file header at the start of data, validating
// the magic bytes, class and endianness fields.
func NewHeader(data []byte) (*Header, *kernel.Error) {
	if len(data) < ehdrSize {
		return nil, errTruncated
	}
	ident := data[:identNIdent]
	if ident[0] != identMagic0 || ident[1] != identMagic1 || ident[2] != identMagic2 || ident[3] != identMagic3 {
		return nil, errNotELF
	}
	if ident[identClass] != classELF64 {
		return nil, errNot64Bit
	}
	if ident[identData] != dataLittleEnd {
		return nil, errNotLittleEnd
	}

	h := &Header{
		Type:      binary.LittleEndian.Uint16(data[16:18]),
		Machine:   binary.LittleEndian.Uint16(data[18:20]),
		Entry:     binary.LittleEndian.Uint64(data[24:32]),
		SHOff:     binary.LittleEndian.Uint64(data[40:48]),
		SHEntSize: binary.LittleEndian.Uint16(data[58:60]),
		SHNum:     binary.LittleEndian.Uint16(data[60:62]),
		SHStrNdx:  binary.LittleEndian.Uint16(data[62:64]),
		data:      data,
	}
	return h, nil
}

// sectionAt decodes the i-th section header entry.
func (h *Header) sectionAt(i uint16) (*Section, *kernel.Error) {
	off := h.SHOff + uint64(i)*uint64(h.SHEntSize)
	if off+shdrSize > uint64(len(h.data)) {
		return nil, errTruncated
	}
	b := h.data[off : off+shdrSize]
	return &Section{
		NameOffset: binary.LittleEndian.Uint32(b[0:4]),
		Type:       binary.LittleEndian.Uint32(b[4:8]),
		Flags:      binary.LittleEndian.Uint64(b[8:16]),
		Addr:       binary.LittleEndian.Uint64(b[16:24]),
		Offset:     binary.LittleEndian.Uint64(b[24:32]),
		Size:       binary.LittleEndian.Uint64(b[32:40]),
		Link:       binary.LittleEndian.Uint32(b[40:44]),
		Info:       binary.LittleEndian.Uint32(b[44:48]),
		AddrAlign:  binary.LittleEndian.Uint64(b[48:56]),
		EntSize:    binary.LittleEndian.Uint64(b[56:64]),
	}, nil
}

// sectionName reads the NUL-terminated name of section sec out of the
// section header string table.
func (h *Header) sectionName(strtab *Section, sec *Section) string {
	start := strtab.Offset + uint64(sec.NameOffset)
	if start >= uint64(len(h.data)) {
		return ""
	}
	end := start
	for end < uint64(len(h.data)) && h.data[end] != 0 {
		end++
	}
	return string(h.data[start:end])
}

// Section returns the named section's header and raw contents, or
// ErrNotFound if no section with that name exists.
func (h *Header) Section(name string) (*Section, []byte, *kernel.Error) {
	strtab, err := h.sectionAt(h.SHStrNdx)
	if err != nil {
		return nil, nil, err
	}

	for i := uint16(0); i < h.SHNum; i++ {
		sec, err := h.sectionAt(i)
		if err != nil {
			return nil, nil, err
		}
		if h.sectionName(strtab, sec) != name {
			continue
		}
		if sec.Offset+sec.Size > uint64(len(h.data)) {
			return nil, nil, errTruncated
		}
		return sec, h.data[sec.Offset : sec.Offset+sec.Size], nil
	}

	return nil, nil, &kernel.Error{Module: "elf", Code: kernel.ErrNotFound, Message: "section " + name + " not found"}
}
