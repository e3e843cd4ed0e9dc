// Package dwarf implements just enough of DWARF version 5 to symbolicate a
// return address into a function name and source location: aranges-based
// compilation-unit lookup, abbreviation and DIE decoding, and the
// line-number program state machine. It is built around a bounded Reader
// rather than raw pointers, since every section it walks is untrusted input
// (the kernel's own image, but still attacker-adjacent data once a
// corrupted binary is in play) and an out-of-bounds read here must fail
// cleanly instead of faulting the kernel a second time while it is trying
// to report the first fault.
package dwarf

import "github.com/maxdevos49/osdev/kernel"

var errOutOfBounds = &kernel.Error{Module: "dwarf", Code: kernel.ErrOutOfBounds, Message: "read past end of section"}

// Reader is a bounds-checked cursor over a byte slice, the Go analogue of
// the original implementation's {stream, stream_end} pointer pair.
type Reader struct {
	data []byte
	pos  int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the current byte offset into the section.
func (r *Reader) Pos() int { return r.pos }

// SeekTo repositions the reader at an absolute offset.
func (r *Reader) SeekTo(off int) { r.pos = off }

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int { return len(r.data) - r.pos }

// Done reports whether the reader has consumed the whole section.
func (r *Reader) Done() bool { return r.pos >= len(r.data) }

func (r *Reader) need(n int) *kernel.Error {
	if r.pos+n > len(r.data) {
		return errOutOfBounds
	}
	return nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, *kernel.Error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// U16 reads a little-endian 16-bit value.
func (r *Reader) U16() (uint16, *kernel.Error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := uint16(r.data[r.pos]) | uint16(r.data[r.pos+1])<<8
	r.pos += 2
	return v, nil
}

// U32 reads a little-endian 32-bit value.
func (r *Reader) U32() (uint32, *kernel.Error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := uint32(r.data[r.pos]) | uint32(r.data[r.pos+1])<<8 |
		uint32(r.data[r.pos+2])<<16 | uint32(r.data[r.pos+3])<<24
	r.pos += 4
	return v, nil
}

// U64 reads a little-endian 64-bit value.
func (r *Reader) U64() (uint64, *kernel.Error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(r.data[r.pos+i]) << (8 * i)
	}
	r.pos += 8
	return v, nil
}

// Bytes consumes and returns the next n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, *kernel.Error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// CString reads a NUL-terminated string starting at the current position.
func (r *Reader) CString() (string, *kernel.Error) {
	start := r.pos
	for r.pos < len(r.data) && r.data[r.pos] != 0 {
		r.pos++
	}
	if r.pos >= len(r.data) {
		return "", errOutOfBounds
	}
	s := string(r.data[start:r.pos])
	r.pos++ // skip the NUL
	return s, nil
}

// ULEB128 decodes an unsigned little-endian base-128 varint.
func (r *Reader) ULEB128() (uint64, *kernel.Error) {
	var result uint64
	var shift uint
	for {
		b, err := r.U8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

// SLEB128 decodes a signed little-endian base-128 varint, sign-extending
// from the second-highest bit (0x40) of the final byte.
func (r *Reader) SLEB128() (int64, *kernel.Error) {
	var result int64
	var shift uint
	var b byte
	var err *kernel.Error
	for {
		b, err = r.U8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// StringAt reads a NUL-terminated string at a specific offset in data
// without disturbing the reader's current position, used to resolve
// DW_FORM_strp/line_strp indirections into .debug_str/.debug_line_str.
func StringAt(data []byte, offset uint64) (string, *kernel.Error) {
	if offset >= uint64(len(data)) {
		return "", errOutOfBounds
	}
	end := offset
	for end < uint64(len(data)) && data[end] != 0 {
		end++
	}
	if end >= uint64(len(data)) {
		return "", errOutOfBounds
	}
	return string(data[offset:end]), nil
}
