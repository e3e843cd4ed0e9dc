package irq

import "github.com/maxdevos49/osdev/kernel/kfmt"

// defaultHandler runs for any vector with no registered Handler. It is a
// package-level var rather than a hard-coded call into debug/trace so that
// irq has no dependency on the symbolicator; kmain wires the real one in
// during boot with SetDefaultHandler.
var defaultHandler Handler = fallbackHandler

// SetDefaultHandler replaces the handler invoked for exceptions with no
// vector-specific registration. debug/trace installs its panic-and-halt
// handler here during boot.
func SetDefaultHandler(fn Handler) {
	defaultHandler = fn
}

// fallbackHandler is used until SetDefaultHandler is called, covering the
// narrow window between IDT installation and symbolicator bring-up.
func fallbackHandler(regs *Registers) {
	kfmt.Printf("unhandled %s (vector %d)\n", regs.Vector().String(), uint8(regs.Vector()))
	regs.DumpTo(kfmt.GetOutputSink())
	for {
		halt()
	}
}

// halt is the architecture HLT instruction, declared in irq itself so that
// irq does not import cpu.
func halt()
