// Package irq brings up hardware interrupt delivery: it masks the legacy
// 8259A PIC, programs the LAPIC and IOAPIC, and lets the rest of the kernel
// register a handler per legacy IRQ line without dealing with gate vectors
// directly.
package irq

import "github.com/gitrustux/rustica/kernel/gate"

// Handler is invoked with the IRQ line number (0-15) that fired.
type Handler func(line uint8)

var handlers [16]Handler

// Init masks the legacy PIC, brings up the LAPIC (spurious vector, EOI)
// and programs the IOAPIC redirection table so that IRQ n arrives at
// gate.IRQBase+n. mapMMIOFn must map a physical MMIO page and return its
// kernel-virtual address; it is supplied by vmm so this package never
// depends on the paging internals directly.
func Init(ioapicMMIOPhys uintptr, bspAPICID uint8, overrides map[uint8]Override, mapMMIOFn func(phys uintptr) uintptr) {
	maskLegacyPIC()
	initLAPIC(mapMMIOFn)
	InitIOAPIC(mapMMIOFn(ioapicMMIOPhys), bspAPICID, overrides)

	for line := uint8(0); line < 16; line++ {
		l := line
		gate.HandleInterrupt(gate.IRQBase+gate.InterruptNumber(l), 0, func(regs *gate.Registers) {
			dispatch(l)
		})
	}
}

// Register installs h as the handler for legacy IRQ line. Only one handler
// may be registered per line; a later call replaces the earlier one.
func Register(line uint8, h Handler) {
	handlers[line] = h
}

// dispatch implements the kernel's IRQ stub ordering discipline: the
// device-specific handler acknowledges its own controller first (S2), and
// only once it returns does this function signal EOI to the LAPIC (S3),
// guaranteeing exactly one EOI per interrupt (S4) regardless of whether a
// handler is even registered for the line.
func dispatch(line uint8) {
	if h := handlers[line]; h != nil {
		h(line)
	}

	EOI()
}
