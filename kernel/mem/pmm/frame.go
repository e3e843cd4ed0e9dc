// Package pmm manages physical memory frame allocation with a bitmap: one
// bit per page, set when the frame is in use.
package pmm

import (
	"math"

	"github.com/maxdevos49/osdev/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by allocation methods that fail to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is not the InvalidFrame sentinel.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the frame containing physAddr, truncating down
// to the enclosing page boundary.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}
