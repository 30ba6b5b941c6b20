// Package sync provides the kernel's only mutual-exclusion primitive: a
// critical section guarded by disabling interrupts. This kernel never runs
// on more than one core (spec Non-goal: SMP) and never preempts kernel-mode
// code except via an IRQ, so the only thing that can ever race a kernel code
// path touching a global structure (the process table, the ready queue, the
// PMM free lists, the heap free list, the ramdisk, the keyboard's cooked
// queue) is an interrupt handler running on top of it. Disabling interrupts
// for the duration of the critical section is therefore both necessary and
// sufficient; a spinning lock that busy-waits for another core would be
// solving a problem this kernel does not have.
package sync

import "github.com/gitrustux/rustica/kernel/cpu"

// criticalDepth tracks nested Enter/Leave pairs so that an inner critical
// section entered from within an outer one does not prematurely re-enable
// interrupts when it unwinds.
var criticalDepth uint32

// Enter disables interrupts, entering (or extending) a critical section.
// Every call to Enter must be matched by exactly one call to Leave.
func Enter() {
	cpu.DisableInterrupts()
	criticalDepth++
}

// Leave ends the innermost critical section opened by Enter. Interrupts are
// only actually re-enabled once the outermost Enter/Leave pair unwinds.
func Leave() {
	criticalDepth--
	if criticalDepth == 0 {
		cpu.EnableInterrupts()
	}
}

// Guard runs fn with interrupts disabled and restores the previous state
// before returning, regardless of whether fn panics.
func Guard(fn func()) {
	Enter()
	defer Leave()
	fn()
}
