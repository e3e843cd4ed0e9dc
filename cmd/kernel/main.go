// Command kernel is the trampoline the rt0 assembly stub jumps to once the
// CPU is in long mode, a GDT is loaded, and a minimal g0 stack is set up.
// main is the only Go symbol the rt0 code calls directly; everything else
// is reached from kmain.Main.
package main

import "github.com/maxdevos49/osdev/kernel/kmain"

// main is intentionally defined rather than inlined away: it is the
// compiler's only reachable root for the entire kernel package graph, so
// without it the linker would have nothing forcing kmain (and everything it
// imports) into the final binary.
//
// main is not expected to return; kmain.Main halts the CPU itself if it
// ever falls out of its final loop.
func main() {
	kmain.Main()
}
