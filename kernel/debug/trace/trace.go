// Package trace implements the panic and stack-trace path: an rbp-chain
// unwinder that symbolicates each return address via the kernel's own
// embedded DWARF-5 debug information, and the panic/panicf/halt triad that
// every fatal kernel condition funnels through.
package trace

import (
	"unsafe"

	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/cpu"
	"github.com/maxdevos49/osdev/kernel/debug/dwarf"
	"github.com/maxdevos49/osdev/kernel/debug/elf"
	"github.com/maxdevos49/osdev/kernel/irq"
	"github.com/maxdevos49/osdev/kernel/kfmt"
)

// defaultMaxFrames bounds Strace when called by the panic path, which has
// no caller-supplied limit.
const defaultMaxFrames = 10

var symbols *dwarf.Context

// Init indexes the kernel's own embedded DWARF sections so that Strace and
// the panic path can resolve addresses to names and source locations.
// Before Init is called, traces still print raw addresses.
func Init(image *elf.Header) *kernel.Error {
	ctx, err := dwarf.Load(image)
	if err != nil {
		return err
	}
	symbols = ctx
	return nil
}

// currentRBP captures the caller's frame-base pointer. Bodiless: the
// implementation is a single `mov rax, rbp; ret` provided by the
// architecture-specific assembly this package links against.
func currentRBP() uintptr

// Strace walks the stack starting at startRBP (or the caller's own rbp if
// startRBP is 0) via the classic {saved_rbp, saved_rip} chain, printing up
// to maxFrames symbolicated frames. If startRIP is non-zero it is printed
// as frame 0 before the chain walk begins, for callers (the exception
// handler) reporting a concrete faulting address rather than a return
// address. Saved return addresses encountered while walking the chain are
// always resolved with PREVIOUS_LINE selection, since a saved rip points
// one instruction past the call site that produced it.
func Strace(maxFrames int, startRBP, startRIP uintptr) {
	rbp := startRBP
	if rbp == 0 {
		rbp = currentRBP()
	}

	frame := 0
	if startRIP != 0 {
		printFrame(frame, startRIP)
		frame++
	}

	for ; frame < maxFrames && rbp != 0; frame++ {
		savedRIP := *(*uintptr)(unsafe.Pointer(rbp + 8))
		if savedRIP == 0 {
			break
		}
		printFrame(frame, savedRIP)
		rbp = *(*uintptr)(unsafe.Pointer(rbp))
	}
}

// printFrame renders one trace line. Symbolication failures are not fatal:
// the spec calls for raw addresses to keep showing up even when a frame
// can't be resolved, since a broken trace is still more useful than none.
func printFrame(index int, pc uintptr) {
	if symbols == nil {
		kfmt.Printf("  [%d] 0x%x\n", index, pc)
		return
	}

	fn, err := symbols.QueryFunc(uint64(pc))
	if err != nil {
		kfmt.Printf("  [%d] 0x%x at <unknown>\n", index, pc)
		return
	}

	line, lerr := symbols.QueryLine(fn, uint64(pc), dwarf.PreviousLine)
	if lerr != nil {
		kfmt.Printf("  [%d] 0x%x at %s\n", index, pc, fn.Name)
		return
	}

	kfmt.Printf("  [%d] 0x%x at %s (%s/%s:%d)\n", index, pc, fn.Name, line.Directory, line.File, line.Line)
}

// Halt disables interrupts and spins on hlt forever. Marked non-returning
// by convention: every caller is expected to be the last thing that
// happens on its path.
func Halt() {
	cpu.DisableInterrupts()
	for {
		cpu.Halt()
	}
}

var errUnknownPanic = &kernel.Error{Module: "trace", Message: "unknown cause"}

// Panic reports err (if not nil), a symbolicated trace, and halts. Calls to
// Panic never return. It also serves as the redirection target for calls
// to the Go runtime's panic() (resolved via runtime.gopanic) once that
// hijack is wired up in goruntime.
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errUnknownPanic.Message = t.Error()
		err = errUnknownPanic
	}

	kfmt.Printf("\n----------------------------------------\n")
	if err != nil {
		kfmt.Printf("[PANIC] [%s] %s\n", err.Module, err.Message)
	}
	Strace(defaultMaxFrames, 0, 0)
	kfmt.Printf("----------------------------------------\n")

	Halt()
}

// panicString serves as a redirect target for runtime.throw.
//go:redirect-from runtime.throw
func panicString(msg string) {
	errUnknownPanic.Message = msg
	Panic(errUnknownPanic)
}

// panicMsgBuf is a fixed-size stack buffer Panicf formats into, so that
// building a panic message never depends on the heap allocator being in a
// known-good state.
type panicMsgBuf struct {
	buf [256]byte
	n   int
}

func (b *panicMsgBuf) Write(p []byte) (int, error) {
	n := copy(b.buf[b.n:], p)
	b.n += n
	return n, nil
}

func (b *panicMsgBuf) String() string { return string(b.buf[:b.n]) }

// Panicf formats msg and halts through Panic. It is the preferred entry
// point for fatal conditions raised directly by kernel code (out-of-memory,
// malformed page tables, an unsupported DWARF form) rather than via the Go
// runtime's own panic().
func Panicf(format string, args ...interface{}) {
	var buf panicMsgBuf
	kfmt.Fprintf(&buf, format, args...)
	errUnknownPanic.Message = buf.String()
	Panic(errUnknownPanic)
}

// exceptionNames gives the fixed mnemonic table the CPU exception handler
// prints from, indexed by vector.
var exceptionNames = [32]string{
	0:  "Divide By Zero",
	1:  "Debug",
	2:  "Non Maskable Interrupt",
	3:  "Breakpoint",
	4:  "Overflow",
	5:  "Bound Range Exceeded",
	6:  "Invalid Opcode",
	7:  "Device Not Available",
	8:  "Double Fault",
	10: "Invalid TSS",
	11: "Segment Not Present",
	12: "Stack Segment Fault",
	13: "General Protection Fault",
	14: "Page Fault",
	16: "x87 Floating Point Exception",
	17: "Alignment Check",
	18: "Machine Check",
	19: "SIMD Floating Point Exception",
	20: "Virtualization Exception",
	21: "Control Protection Exception",
	28: "Hypervisor Injection Exception",
	29: "VMM Communication Exception",
	30: "Security Exception",
}

// ExceptionHandler is installed as the IDT's default handler. It prints
// the exception mnemonic, the CPU-pushed error code (if any), a bounded
// stack trace, and a full register dump, then halts. This is the terminal
// handler for every CPU exception this kernel does not otherwise service.
func ExceptionHandler(regs *irq.Registers) {
	vector := regs.Vector()
	name := "Unknown Exception"
	if int(vector) < len(exceptionNames) && exceptionNames[vector] != "" {
		name = exceptionNames[vector]
	}

	kfmt.Printf("\n----------------------------------------\n")
	kfmt.Printf("%s (0x%x)\n", name, uint8(vector))
	if vector.HasErrorCode() {
		kfmt.Printf("error code: 0x%x\n", regs.ErrorCode())
	}
	if vector == irq.PageFaultException {
		kfmt.Printf("faulting address: 0x%x\n", cpu.ReadCR2())
	}

	Strace(defaultMaxFrames, uintptr(regs.RBP), uintptr(regs.RIP))
	regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Printf("----------------------------------------\n")

	Halt()
}

// Install wires ExceptionHandler in as irq's default handler, replacing
// the bare fallback that's active between IDT installation and debug
// section bring-up.
func Install() {
	irq.SetDefaultHandler(ExceptionHandler)
}
