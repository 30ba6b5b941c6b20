package kernel

import (
	"github.com/gitrustux/rustica/kernel/acpi"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/gdt"
	_ "github.com/gitrustux/rustica/kernel/goruntime"
	"github.com/gitrustux/rustica/kernel/hal"
	"github.com/gitrustux/rustica/kernel/hal/uefi"
	"github.com/gitrustux/rustica/kernel/irq"
	"github.com/gitrustux/rustica/kernel/keyboard"
	"github.com/gitrustux/rustica/kernel/kfmt"
	"github.com/gitrustux/rustica/kernel/kfmt/early"
	"github.com/gitrustux/rustica/kernel/mem/heap"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/pmm/allocator"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
	"github.com/gitrustux/rustica/kernel/proc"
	"github.com/gitrustux/rustica/kernel/ramdisk"
	"github.com/gitrustux/rustica/kernel/syscall"
	"github.com/gitrustux/rustica/kernel/tty"
	"github.com/gitrustux/rustica/kernel/vfs"
)

var errKmainReturned = &Error{Module: "kmain", Message: "Kmain returned"}

// initProcPath is the ramdisk path spawned as PID 1 once the scheduler is
// ready; it is expected to reap orphaned zombies for the lifetime of the
// system (spec.md section 9's reaping policy).
const initProcPath = "/bin/init"

// timerInitialCount is the fixed initial count the LAPIC timer reloads in
// periodic mode. It is not derived from kconfig.TimeSlice and is not
// calibrated against wall-clock time.
const timerInitialCount = 0x100000

// mapMMIO identity-maps a single uncached page at phys, for the LAPIC/
// IOAPIC register windows irq.Init needs reachable once vmm.Init has
// replaced the trampoline's identity map with the kernel's own.
func mapMMIO(phys uintptr) uintptr {
	page := vmm.PageFromAddress(phys)
	frame := pmm.FrameFromAddress(phys)
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagDoNotCache | vmm.FlagNoExecute
	if err := vmm.Map(page, frame, flags); err != nil {
		Panic(err)
	}
	return phys
}

// irqOverrides translates acpi's MADT Interrupt Source Override records
// into irq's own Override type, keeping kernel/irq decoupled from
// kernel/acpi the same way mapMMIO keeps it decoupled from kernel/mem/vmm.
func irqOverrides(in map[uint8]acpi.Override) map[uint8]irq.Override {
	out := make(map[uint8]irq.Override, len(in))
	for line, o := range in {
		out[line] = irq.Override{GSI: o.GSI, ActiveLow: o.ActiveLow, LevelTriggered: o.LevelTriggered}
	}
	return out
}

// Kmain is the only Go symbol the UEFI entry trampoline calls, after it has
// built the flat GDT and switched to long mode (see kconfig_amd64.go).
// bootInfoAddr is the physical address of the boot info block the
// trampoline left behind (framebuffer geometry, firmware memory map, RSDP
// address); kernelStart/kernelEnd bound the physical frame range the
// kernel's own ELF image occupies, so the PMM and the fresh identity map
// vmm.Init builds both know to exclude/cover it. Kmain brings up every
// subsystem spec.md section 4 describes, in dependency order, then hands
// off to the scheduler and never returns.
//
//go:noinline
func Kmain(bootInfoAddr, kernelStart, kernelEnd uintptr) {
	hal.InitTerminal(bootInfoAddr)
	hal.ActiveTerminal.(*tty.Vt).Clear()
	early.Printf("starting kernel\n")

	if err := allocator.Init(kernelStart, kernelEnd); err != nil {
		Panic(err)
	}
	if err := vmm.Init(kernelStart, kernelEnd); err != nil {
		Panic(err)
	}
	if err := heap.Init(); err != nil {
		Panic(err)
	}
	kfmt.SetOutputSink(hal.ActiveTerminal)

	gdt.Init()
	gate.Init()

	acpiInfo, ok := acpi.Parse(uintptr(uefi.RSDPPhysAddr()))
	if !ok {
		Panic(&Error{Module: "kmain", Message: "ACPI MADT not found; cannot bring up interrupts"})
	}
	irq.Init(acpiInfo.IOAPICPhysAddr, acpiInfo.BSPAPICID, irqOverrides(acpiInfo.Overrides), mapMMIO)
	irq.RegisterTimerHandler(proc.TimerTick)
	irq.Register(1, keyboard.HandleIRQ)
	keyboard.SetWakeFn(proc.WakeBlockedOnStdin)

	archive, err := ramdisk.Open(ramdisk.Embedded())
	if err != nil {
		Panic(err)
	}
	proc.SetArchive(archive)
	vfs.SetArchive(archive)

	kfmt.Printf("kernel ready, %d ramdisk files\n", archive.FileCount())
	syscall.Init()

	if _, err := proc.Spawn(initProcPath, 0); err != nil {
		Panic(&Error{Module: "kmain", Message: "failed to spawn " + initProcPath})
	}

	irq.StartTimer(timerInitialCount)
	proc.Start()

	// proc.Start never returns; reaching here means the scheduler's own
	// idle loop returned, which should be impossible.
	Panic(errKmainReturned)
}
