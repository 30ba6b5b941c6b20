package main

import "github.com/gitrustux/rustica/kernel"

// bootInfoAddr, kernelImageStart and kernelImageEnd are populated by the
// UEFI entry trampoline before it jumps here; they are package-level
// variables rather than arguments to main (which Go's runtime calls with
// no arguments of its own) and are declared as globals purely so the
// compiler cannot prove main's call to Kmain is dead code and strip it.
var (
	bootInfoAddr                     uintptr
	kernelImageStart, kernelImageEnd uintptr
)

// main is the only Go symbol visible from the rt0 initialization code. It
// is a trampoline for the actual kernel entrypoint (kernel.Kmain),
// intentionally kept in its own tiny function so the compiler can't reason
// about (and eliminate) the rest of the kernel, which it has no visibility
// into from outside this module.
//
// main is invoked by the rt0 assembly code after it has built the flat GDT
// and a minimal g0 struct that lets Go code run on the small stack the
// trampoline allocated. main is not expected to return; if it does, the
// trampoline halts the CPU.
func main() {
	kernel.Kmain(bootInfoAddr, kernelImageStart, kernelImageEnd)
}
