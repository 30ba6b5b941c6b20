// Package vmm manages virtual-to-physical address translation: page table
// construction and walking, the kernel's own identity-mapped PDT, and the
// AddressSpace/VMO abstraction each process's memory is built from. Copy-on
// -write is intentionally not implemented here (every VMO.Clone does an
// eager copy) — the process model this kernel targets never runs more than
// one thread per address space, so CoW buys nothing but fault-handler
// complexity.
package vmm

import (
	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/cpu"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/kfmt"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
)

var (
	// frameAllocator points to the function registered via
	// SetFrameAllocator; every intermediate page table Map() creates
	// comes from here.
	frameAllocator FrameAllocatorFn

	// The following are mocked by tests and inlined away in the kernel
	// build.
	handleInterruptFn = gate.HandleInterrupt
	readCR2Fn         = cpu.ReadCR2
	panicFn           = kernel.Panic
)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// pageFaultHandler is installed for gate.PageFaultException. Every fault
// that reaches it is fatal: there is no demand paging, since NewVMO
// allocates every backing frame up front, so a hardware page fault only
// ever means a genuine programming error — a wild pointer, a stack
// overflow, or a write to a read-only mapping.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\npage fault at 0x%16x, reason: ", faultAddress)
	switch regs.Info {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page-fault in user-mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown (code %d)", regs.Info)
	}
	kfmt.Printf("\n\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(&kernel.Error{Module: "vmm", Message: "unrecoverable page fault"})
}

func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\ngeneral protection fault accessing 0x%x\n\n", readCR2Fn())
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(&kernel.Error{Module: "vmm", Message: "general protection fault"})
}

// Init installs the page/GPF fault handlers and builds a fresh identity
// mapping for the kernel image's own frame range plus whatever
// EarlyReserveRegion has handed out so far (the boot-time PMM bookkeeping
// structures), then activates it. The UEFI trampoline hands control to
// kmain already running under its own identity map with 1:1 physical to
// virtual addresses; this kernel keeps that scheme rather than relocating
// to a higher-half VMA, since nothing in the boot info block carries ELF
// section boundaries the way a multiboot handoff would.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if err := setupKernelPDT(kernelStart, kernelEnd); err != nil {
		return err
	}

	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
	return nil
}

func setupKernelPDT(kernelStart, kernelEnd uintptr) *kernel.Error {
	// kernelStart sits in the shared kernel half of every AddressSpace's
	// PML4 (it's below kconfig.UserPML4Boundary), so it's a safe fixed
	// address for Activate's canary check to read through any PDT.
	canaryAddr = kernelStart

	var pdt PageDirectoryTable

	pdtFrame, err := frameAllocator(pmm.ZoneKernel)
	if err != nil {
		return err
	}
	if err = pdt.Init(pdtFrame); err != nil {
		return err
	}

	startPage := PageFromAddress(kernelStart)
	endPage := PageFromAddress(kernelEnd)
	for page := startPage; page <= endPage; page++ {
		if err = pdt.Map(page, pmm.Frame(page), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	// Carry forward every region EarlyReserveRegion has handed out so
	// far (the boot-time PMM's own pool/bitmap storage) so it survives
	// the switch away from the trampoline's page tables.
	for addr := earlyReserveLastUsed; addr < tempMappingAddr2; addr += uintptr(mem.PageSize) {
		page := PageFromAddress(addr)
		physAddr, err := Translate(addr)
		if err != nil {
			return err
		}
		if err = pdt.Map(page, pmm.Frame(physAddr>>mem.PageShift), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	pdt.Activate()
	return nil
}
