package irq

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel/cpu"
	"github.com/gitrustux/rustica/kernel/gate"
)

const (
	msrAPICBase = 0x1b

	apicBaseX2APICEnable = 1 << 10
	apicBaseGlobalEnable = 1 << 11
	apicBaseAddrMask     = 0x000f_ffff_ffff_f000

	// LAPIC MMIO register offsets (xAPIC mode only).
	lapicRegID      = 0x020
	lapicRegSVR     = 0x0f0
	lapicRegEOI     = 0x0b0
	lapicRegTimerLVT = 0x320
	lapicRegTimerInitCount = 0x380
	lapicRegTimerCurCount  = 0x390
	lapicRegTimerDivide    = 0x3e0

	svrSoftwareEnable = 1 << 8

	// SpuriousVector is unused by any real device and just needs to sit
	// outside both the exception range and the legacy-IRQ remap range.
	SpuriousVector = 0xff

	// timerVector is the LVT entry for the periodic scheduler tick.
	timerVector = 0x30

	lvtMasked   = 1 << 16
	lvtPeriodic = 1 << 17
)

var lapicBase uintptr

// initLAPIC reads IA32_APIC_BASE, demotes an x2APIC-capable CPU back to
// xAPIC mode (this kernel only ever programs the MMIO register interface,
// never the x2APIC MSR interface), maps the LAPIC MMIO page and arms the
// spurious-interrupt vector. Every write here is followed by a read-back:
// a CPU that silently ignores one of these writes would otherwise run with
// interrupt delivery in an unknown state, which is worse than halting now.
func initLAPIC(mapMMIOFn func(phys uintptr) uintptr) {
	base := cpu.ReadMSR(msrAPICBase)

	// Demote: clear the x2APIC enable bit while leaving the APIC globally
	// enabled, so register access goes back through MMIO.
	if base&apicBaseX2APICEnable != 0 {
		base &^= apicBaseX2APICEnable
		cpu.WriteMSR(msrAPICBase, base)

		if got := cpu.ReadMSR(msrAPICBase); got&apicBaseX2APICEnable != 0 {
			panic("initLAPIC: x2APIC demotion did not take effect")
		}
	}

	if base&apicBaseGlobalEnable == 0 {
		base |= apicBaseGlobalEnable
		cpu.WriteMSR(msrAPICBase, base)

		if got := cpu.ReadMSR(msrAPICBase); got&apicBaseGlobalEnable == 0 {
			panic("initLAPIC: APIC global enable did not take effect")
		}
	}

	physBase := uintptr(base & apicBaseAddrMask)
	lapicBase = mapMMIOFn(physBase)

	const svr = svrSoftwareEnable | SpuriousVector
	lapicWrite(lapicRegSVR, svr)
	if got := lapicRead(lapicRegSVR); got != svr {
		panic("initLAPIC: SVR software-enable write did not take effect")
	}
}

// EOI signals end-of-interrupt to the LAPIC. Every IRQ handler must call
// this exactly once, after acknowledging the device but before returning,
// per the kernel's IRQ stub ordering discipline.
func EOI() {
	lapicWrite(lapicRegEOI, 0)
}

// StartTimer arms the LAPIC timer for periodic ticks at the given initial
// count. The count is used as given; nothing calibrates it against
// wall-clock time, so the tick period depends on the LAPIC bus clock.
func StartTimer(initialCount uint32) {
	lapicWrite(lapicRegTimerDivide, 0x3) // divide by 16
	lapicWrite(lapicRegTimerLVT, timerVector|lvtPeriodic)
	lapicWrite(lapicRegTimerInitCount, initialCount)
}

// RegisterTimerHandler installs h as the scheduler's preemption tick,
// invoked on every LAPIC timer interrupt. Unlike the legacy-IRQ handlers
// registered through Register, the timer handler receives the trapped
// register frame directly: the scheduler needs it to perform a context
// switch (see kernel/proc.Schedule), which a plain IRQ-line number cannot
// express. EOI is still signaled exactly once, after h returns, preserving
// the same S2/S3 ordering every other IRQ path follows.
func RegisterTimerHandler(h func(regs *gate.Registers)) {
	gate.HandleInterrupt(gate.InterruptNumber(timerVector), 0, func(regs *gate.Registers) {
		h(regs)
		EOI()
	})
}

func lapicWrite(reg uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(lapicBase + uintptr(reg))) = value
}

func lapicRead(reg uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(lapicBase + uintptr(reg)))
}
