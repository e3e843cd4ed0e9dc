package elf

import (
	"encoding/binary"
	"testing"

	"github.com/maxdevos49/osdev/kernel"
)

// buildMinimalELF assembles a tiny well-formed ELF64 image with a section
// header string table and one named section ("data"), enough to exercise
// header validation and name-based section lookup.
func buildMinimalELF(t *testing.T) []byte {
	t.Helper()

	const (
		shstrtabName = "\x00.shstrtab\x00data\x00"
	)

	shstrtabOff := uint64(ehdrSize)
	shstrtabSize := uint64(len(shstrtabName))

	dataOff := shstrtabOff + shstrtabSize
	dataContents := []byte("hello debug section")
	dataSize := uint64(len(dataContents))

	shOff := dataOff + dataSize

	buf := make([]byte, shOff+3*shdrSize)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[identClass] = classELF64
	buf[identData] = dataLittleEnd

	binary.LittleEndian.PutUint16(buf[16:18], 2)  // e_type
	binary.LittleEndian.PutUint16(buf[18:20], 62) // e_machine
	binary.LittleEndian.PutUint64(buf[40:48], shOff)
	binary.LittleEndian.PutUint16(buf[58:60], shdrSize)
	binary.LittleEndian.PutUint16(buf[60:62], 3) // e_shnum: null, shstrtab, data
	binary.LittleEndian.PutUint16(buf[62:64], 1) // e_shstrndx

	copy(buf[shstrtabOff:], shstrtabName)
	copy(buf[dataOff:], dataContents)

	writeShdr := func(idx uint16, nameOff uint32, off, size uint64) {
		b := buf[shOff+uint64(idx)*shdrSize : shOff+uint64(idx)*shdrSize+shdrSize]
		binary.LittleEndian.PutUint32(b[0:4], nameOff)
		binary.LittleEndian.PutUint64(b[24:32], off)
		binary.LittleEndian.PutUint64(b[32:40], size)
	}

	writeShdr(0, 0, 0, 0)
	writeShdr(1, 1, shstrtabOff, shstrtabSize) // ".shstrtab"
	writeShdr(2, 11, dataOff, dataSize)        // "data"

	return buf
}

func TestNewHeaderValidatesMagic(t *testing.T) {
	_, err := NewHeader([]byte("not an elf file at all........."))
	if err == nil {
		t.Fatalf("expected an error for non-ELF data")
	}
}

func TestSectionLookupByName(t *testing.T) {
	img := buildMinimalELF(t)

	h, err := NewHeader(img)
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}

	sec, contents, err := h.Section("data")
	if err != nil {
		t.Fatalf("Section(data): %v", err)
	}
	if string(contents) != "hello debug section" {
		t.Fatalf("unexpected section contents: %q", contents)
	}
	if sec.Size != uint64(len(contents)) {
		t.Fatalf("section size mismatch")
	}
}

func TestSectionLookupMissing(t *testing.T) {
	img := buildMinimalELF(t)
	h, _ := NewHeader(img)

	_, _, err := h.Section("does-not-exist")
	if err == nil || err.Code != kernel.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
