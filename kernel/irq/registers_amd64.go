// Package irq installs the IDT and dispatches CPU exceptions and hardware
// interrupts to registered Go handlers.
package irq

import (
	"io"

	"github.com/maxdevos49/osdev/kernel/kfmt"
)

// Registers is the snapshot of debug/control, general-purpose, and
// interrupt-return register state captured by the assembly gate stub before
// it calls into Go. Its field order and size must match the stub's push
// sequence exactly: {saved DRn, CRn, general-purpose registers, info (vector
// in the upper 32 bits, error code in the lower 32), return_rip, return_cs,
// return_rflags, return_rsp, return_ss}.
type Registers struct {
	DR0 uint64
	DR1 uint64
	DR2 uint64
	DR3 uint64
	DR6 uint64
	DR7 uint64

	CR0 uint64
	CR2 uint64
	CR3 uint64
	CR4 uint64

	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info carries the CPU-pushed error code for exceptions that have one
	// (0 otherwise) and the vector number in its upper 32 bits.
	Info uint64

	// RIP, CS, RFlags, RSP and SS are the frame IRETQ consumes to resume
	// execution.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// ErrorCode returns the CPU-pushed error code, valid only for vectors that
// define one (8, 10-14, 17, 21, 29, 30).
func (r *Registers) ErrorCode() uint32 {
	return uint32(r.Info)
}

// Vector returns the interrupt/exception number that triggered this frame.
func (r *Registers) Vector() InterruptNumber {
	return InterruptNumber(r.Info >> 32)
}

// DumpTo renders every captured register to w, one pair per line, matching
// the layout a symbolicated panic report appends its stack trace beneath.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "CR0 = %16x CR2 = %16x\n", r.CR0, r.CR2)
	kfmt.Fprintf(w, "CR3 = %16x CR4 = %16x\n", r.CR3, r.CR4)
	kfmt.Fprintf(w, "DR0 = %16x DR1 = %16x\n", r.DR0, r.DR1)
	kfmt.Fprintf(w, "DR2 = %16x DR3 = %16x\n", r.DR2, r.DR3)
	kfmt.Fprintf(w, "DR6 = %16x DR7 = %16x\n", r.DR6, r.DR7)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x ERR = %16x\n", r.RFlags, r.ErrorCode())
}
