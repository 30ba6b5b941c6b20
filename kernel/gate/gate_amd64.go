// Package gate owns the IDT: gate descriptor construction, dispatch of a
// raw interrupt vector to a registered Go handler, and the fixed vector
// numbering (CPU exceptions, remapped legacy IRQs, and the syscall gate)
// the rest of the kernel codes against.
package gate

import (
	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/kfmt"
	"io"
)

// Registers is a snapshot of all general-purpose registers plus the
// CPU-pushed IRETQ frame, captured on kernel-stack entry to an interrupt,
// exception or syscall gate. Handlers may modify any field; the modified
// values are restored before IRETQ, which is how a syscall return value
// or a process's first RAX get delivered.
type Registers struct {
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

	// Info holds the CPU-pushed error code for exceptions that have one,
	// the interrupt vector otherwise (IRQ number or SyscallVector).
	Info uint64

	// The IRETQ return frame.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w, used by the panic path when a
// kernel-mode exception is fatal.
func (r *Registers) DumpTo(w io.Writer) {
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
	kfmt.Fprintf(w, "RFL = %16x Info = %16x\n", r.RFlags, r.Info)
}

// InterruptNumber identifies an IDT slot.
type InterruptNumber uint8

const (
	DivideByZero               = InterruptNumber(0)
	NMI                        = InterruptNumber(2)
	Overflow                   = InterruptNumber(4)
	BoundRangeExceeded         = InterruptNumber(5)
	InvalidOpcode              = InterruptNumber(6)
	DeviceNotAvailable         = InterruptNumber(7)
	DoubleFault                = InterruptNumber(8)
	InvalidTSS                 = InterruptNumber(10)
	SegmentNotPresent          = InterruptNumber(11)
	StackSegmentFault          = InterruptNumber(12)
	GPFException                = InterruptNumber(13)
	PageFaultException         = InterruptNumber(14)
	FloatingPointException     = InterruptNumber(16)
	AlignmentCheck             = InterruptNumber(17)
	MachineCheck               = InterruptNumber(18)
	SIMDFloatingPointException = InterruptNumber(19)

	// IRQBase is the vector the legacy IRQ0-15 lines are remapped to once
	// the PIC (or IOAPIC redirection table) is reprogrammed, clear of the
	// CPU exception range.
	IRQBase = InterruptNumber(0x20)

	// SyscallVector is the software interrupt vector user processes use
	// to enter the kernel (INT 0x80). RAX holds the syscall number.
	SyscallVector = InterruptNumber(0x80)
)

// hasErrorCode reports whether the CPU pushes an error code for this
// vector, which determines whether a stub needs to synthesize an Info slot.
func hasErrorCode(n InterruptNumber) bool {
	switch n {
	case 8, 10, 11, 12, 13, 14, 17:
		return true
	default:
		return false
	}
}

// handlers is indexed by vector number; a nil entry means "not installed".
// There is no lock: all installation happens before interrupts are enabled
// and this kernel never runs on more than one core (spec Non-goal: SMP).
var handlers [256]func(*Registers)

// Init loads the IDT, making every gate this package has a stub for ready
// to receive HandleInterrupt registrations.
func Init() {
	installIDT()
}

// HandleInterrupt registers handler to run whenever intNumber fires.
// istOffset selects an Interrupt Stack Table entry (1-7) for gates that
// must run on a dedicated stack (double fault); 0 uses the current stack.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlers[intNumber] = handler
	setGateIST(uint8(intNumber), istOffset)
}

// dispatchInterrupt is called by every assembly stub with the vector number
// and a pointer to the register frame it built on the kernel stack. It is
// the single seam between raw vectors and registered Go handlers.
func dispatchInterrupt(vector uint8, regs *Registers) {
	if h := handlers[vector]; h != nil {
		h(regs)
		return
	}

	unhandledInterrupt(vector, regs)
}

// interruptGateEntries returns the address of the stub table the assembler
// generated, one entry point per vector this package supports. Implemented
// in gate_amd64.s; installIDT (idt_amd64.go) indexes into it.
func interruptGateEntries() uintptr

// unhandledInterrupt is the default handler for any vector with a stub but
// no registered Go handler. A fault reaching here is always a programming
// error: either setup forgot to call HandleInterrupt or the hardware fired
// a vector the kernel never expected.
func unhandledInterrupt(vector uint8, regs *Registers) {
	regs.DumpTo(kfmt.GetOutputSink())
	kernel.Panic(&kernel.Error{Module: "gate", Message: "unhandled interrupt"})
}
