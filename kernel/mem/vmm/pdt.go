package vmm

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/cpu"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
)

var (
	// activePDTFn is overridden by tests to avoid reading CR3 outside ring 0.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is overridden by tests to avoid writing CR3 outside ring 0.
	switchPDTFn = cpu.SwitchPDT

	// mapFn is overridden by tests; the compiler inlines it away in the
	// kernel build.
	mapFn = Map

	// mapTemporaryFn is overridden by tests; the compiler inlines it away
	// in the kernel build.
	mapTemporaryFn = MapTemporary

	// unmapFn is overridden by tests; the compiler inlines it away in the
	// kernel build.
	unmapFn = Unmap

	// translateFn is overridden by tests; the compiler inlines it away in
	// the kernel build.
	translateFn = Translate

	// verifyCanaryFn is overridden by tests; the compiler inlines it away
	// in the kernel build.
	verifyCanaryFn = verifyCanary

	// canaryAddr is a fixed kernel virtual address known to sit in the
	// shared kernel half that every AddressSpace's PML4 copies verbatim
	// (set once, to the kernel image's own load address, by
	// setupKernelPDT). Activate reads the byte stored there through both
	// the outgoing and the about-to-be-loaded PDT before ever touching
	// CR3.
	canaryAddr uintptr
)

// PageDirectoryTable describes the top-most table (PML4) in a 4-level
// paging scheme. Each process's AddressSpace owns exactly one.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Init sets up the page table directory starting at the supplied physical
// frame. If that frame is not the currently active PDT, Init assumes this
// is a fresh table that needs bootstrapping: it establishes a temporary
// mapping so it can zero the frame and install a recursive self-mapping in
// the last PML4 entry, the trick walk() relies on to reach any page table
// as ordinary memory.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame.Address() == activePDTFn() {
		return nil
	}

	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	mem.Memset(pdtPage.Address(), 0, mem.PageSize)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	unmapFn(pdtPage)

	return nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using this PDT. Unlike the package-level Map, this supports
// inactive PDTs (building a new process's address space while another
// process's PDT is still the one loaded in CR3) by temporarily retargeting
// the active PDT's recursive entry at this table's frame.
func (pdt PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	err := mapFn(page, frame, flags)

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Unmap removes a mapping previousle installed by a call to Map() on this PDT.
// This method behaves in a similar fashion to the global Unmap() function with
// the difference that it also supports inactive page PDTs by establishing a
// temporary mapping so that Unmap() can access the inactive PDT entries.
func (pdt PageDirectoryTable) Unmap(page Page) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	// If this table is not active we need to temporarily map it to the
	// last entry in the active PDT so we can access it using the recursive
	// virtual address scheme.
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	err := unmapFn(page)

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Activate verifies the canary byte at canaryAddr reads the same through
// both the outgoing and the incoming page tables, then enables this page
// directory table and flushes the TLB. The canary check is not defense in
// depth: a mismatch means pdt's construction is broken, and loading CR3
// anyway would run the kernel off a corrupt table graph, so it is fatal.
func (pdt PageDirectoryTable) Activate() {
	if err := verifyCanaryFn(pdt); err != nil {
		panicFn(err)
		return
	}

	switchPDTFn(pdt.pdtFrame.Address())
}

// verifyCanary reads the byte at canaryAddr through the currently active
// PDT and through pdt, returning an error if either read fails or the two
// disagree. canaryAddr is zero before setupKernelPDT runs, in which case
// there is nothing yet to check.
func verifyCanary(pdt PageDirectoryTable) *kernel.Error {
	if canaryAddr == 0 {
		return nil
	}

	outgoing := *(*byte)(unsafe.Pointer(canaryAddr))

	incoming, err := pdt.readCanary()
	if err != nil {
		return err
	}

	if incoming != outgoing {
		return &kernel.Error{Module: "vmm", Message: "page table canary mismatch before CR3 load"}
	}

	return nil
}

// readCanary reads the byte at canaryAddr through this table's own mapping
// without activating it, temporarily retargeting the active PDT's
// recursive entry at pdt's frame the same way Map and Unmap do for an
// inactive PDT.
func (pdt PageDirectoryTable) readCanary() (byte, *kernel.Error) {
	activePdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	if activePdtFrame == pdt.pdtFrame {
		return *(*byte)(unsafe.Pointer(canaryAddr)), nil
	}

	lastPdtEntryAddr := activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
	lastPdtEntry.SetFrame(pdt.pdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)

	physAddr, err := translateFn(canaryAddr)

	lastPdtEntry.SetFrame(activePdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)

	if err != nil {
		return 0, err
	}

	page, err := mapTemporarySecondaryFn(pmm.Frame(physAddr >> mem.PageShift))
	if err != nil {
		return 0, err
	}
	defer unmapFn(page)

	return *(*byte)(unsafe.Pointer(page.Address() + PageOffset(canaryAddr))), nil
}
