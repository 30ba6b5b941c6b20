package proc

import (
	"github.com/gitrustux/rustica/kernel/cpu"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/gdt"
)

// activeAddressSpace tracks the PML4 frame currently loaded into CR3, so
// Schedule only pays for a CR3 reload (and the TLB flush it implies) when
// the incoming process actually differs from the outgoing one — spawning
// many processes off the same parent before the first context switch would
// otherwise reload an unchanged page table on every tick.
var activeAddressSpace = ^uintptr(0)

// Schedule implements the context switch spec.md section 4.5 describes:
// save the outgoing process's full register frame, replace the page-table
// base, the TSS RSP0, and restore the incoming process's saved frame.
//
// It does this in place on regs, which the caller's interrupt/exception/
// syscall gate stub will IRETQ from once this function returns: rather than
// physically switching kernel stacks, Schedule overwrites the Registers
// value currently sitting atop the OUTGOING process's kernel stack with the
// INCOMING process's saved values, so the very same IRETQ that was already
// about to happen resumes the incoming process instead. This works because
// every process's kernel stack is only ever touched while that process is
// actually trapped into the kernel — by the time any other process gets
// scheduled, TSS.RSP0 has been repointed at ITS OWN kernel stack, so this
// stack is never revisited until its owning process traps again on its own
// terms.
//
// Schedule is always called with interrupts already disabled (from an IRQ
// handler, or from a syscall handler that is itself dispatched via the
// same gate mechanism), so there is no race with another trap arriving
// mid-switch.
func Schedule(regs *gate.Registers) {
	if currentPID != invalidPID && table[currentPID].inUse {
		outgoing := &table[currentPID]
		outgoing.SavedRegs = *regs
		if outgoing.State == Running {
			outgoing.State = Ready
			readyQueue = append(readyQueue, outgoing.PID)
		}
	}

	next := popReady()
	if next == invalidPID {
		// Nothing runnable: idle until the next IRQ. The caller's own
		// IRETQ will resume whatever was running (possibly the idle
		// loop itself) since regs was never modified.
		cpu.EnableInterrupts()
		cpu.Halt()
		return
	}

	incoming := &table[next]
	incoming.State = Running
	currentPID = next

	if addr := incoming.AddressSpace.PML4Frame().Address(); addr != activeAddressSpace {
		incoming.AddressSpace.Activate()
		activeAddressSpace = addr
	}
	gdt.SetRSP0(incoming.KernelStackTop)

	*regs = incoming.SavedRegs
}

// popReady removes and returns the next Ready PID from the run queue,
// skipping (and dropping) any entry that no longer names a Ready process —
// a process can leave Ready (blocking, exiting) after being enqueued but
// before its turn comes up, in which case its queue entry is stale.
func popReady() PID {
	for len(readyQueue) > 0 {
		pid := readyQueue[0]
		readyQueue = readyQueue[1:]
		if table[pid].inUse && table[pid].State == Ready {
			return pid
		}
	}
	return invalidPID
}

// Yield implements the yield() syscall: voluntarily give up the remainder
// of the current time slice.
func Yield(regs *gate.Registers) {
	Schedule(regs)
}

// TimerTick is installed via irq.RegisterTimerHandler; it preempts the
// current process exactly as a voluntary yield would.
func TimerTick(regs *gate.Registers) {
	Schedule(regs)
}
