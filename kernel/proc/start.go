package proc

import (
	"github.com/gitrustux/rustica/kernel/cpu"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/gdt"
)

// enterUserMode loads the CPU register state from regs and executes IRETQ,
// transitioning to user mode. Implemented in enter_amd64.s; it never
// returns.
func enterUserMode(regs *gate.Registers)

// Start hands off control to the scheduler for the first time: it picks
// the first Ready process, installs its address space and kernel stack,
// and IRETQs into it. This is the one scheduler entry that does not run
// from inside an existing trap, so it cannot use Schedule's in-place frame
// overwrite trick — there is no prior Registers frame on any stack to
// overwrite yet. Called once from kmain after every other subsystem
// (PMM, heap, paging, interrupts, ramdisk, the init process) is up; never
// returns.
func Start() {
	next := popReady()
	if next == invalidPID {
		// No process to run at all is a boot-configuration error: the
		// embedded ramdisk's init binary failed to spawn.
		for {
			enterIdle()
		}
	}

	incoming := &table[next]
	incoming.State = Running
	currentPID = next

	incoming.AddressSpace.Activate()
	activeAddressSpace = incoming.AddressSpace.PML4Frame().Address()
	gdt.SetRSP0(incoming.KernelStackTop)

	enterUserMode(&incoming.SavedRegs)
}

// enterIdle halts until the next IRQ; used only if boot produced no
// runnable process at all, which should never happen in a correctly built
// image.
func enterIdle() {
	cpu.Halt()
}
