package vmm

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
)

// Segment records one VMO mapped into an AddressSpace, so the mapping can
// be torn down (or inspected, e.g. by the syscall layer validating a user
// pointer) without re-deriving it from the page tables.
type Segment struct {
	VAddrBase uintptr
	VMO       *VMO
	Flags     PageTableEntryFlag
}

// AddressSpace is the per-process virtual memory context: one private PML4
// plus the list of VMOs currently mapped into it. Every AddressSpace shares
// the same kernel half of its PML4 (copied once at creation, never
// rebuilt), and owns a fully private user half that no other AddressSpace
// ever aliases:
//
//   - the shared kernel range (PML4 indices below kconfig.UserPML4Boundary)
//     is copied verbatim from the currently active kernel page tables and
//     never carries the USER-accessible bit, so user-mode code can never
//     reach it even if a user mapping's address arithmetic went wrong.
//   - the private user range (indices from kconfig.UserPML4Boundary up to,
//     but excluding, the final recursive-mapping slot) starts out zeroed
//     and is populated lazily, one fresh set of intermediate tables per
//     AddressSpace, as VMOs are mapped in.
//   - every intermediate table created while mapping a user page carries
//     the USER-accessible bit too, not just the leaf page table entry —
//     the MMU denies ring-3 access if any level along the walk is missing
//     it, regardless of what the leaf says.
//   - a child table's physical frame is always re-read from its parent
//     entry immediately before use rather than cached across calls, so a
//     concurrent update to the parent (another mapping sharing the same
//     intermediate table) is never silently overwritten.
type AddressSpace struct {
	pml4Frame pmm.Frame
	pdt       PageDirectoryTable
	segments  []Segment
}

// NewAddressSpace allocates a fresh PML4 from the KERNEL zone (page tables
// are kernel bookkeeping regardless of whose address space they serve),
// installs the recursive self-mapping every PDT needs, and copies in the
// shared kernel half.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	pml4Frame, err := frameAllocator(pmm.ZoneKernel)
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{pml4Frame: pml4Frame}
	if err := as.pdt.Init(pml4Frame); err != nil {
		return nil, err
	}
	if err := as.copyKernelHalf(); err != nil {
		return nil, err
	}

	return as, nil
}

// copyKernelHalf duplicates the currently active PML4's shared entries
// (indices [0, kconfig.UserPML4Boundary)) into this AddressSpace's own
// PML4. It assumes the kernel's own page tables are the active ones, which
// holds the only time it's ever called: while building a brand new process
// before that process's AddressSpace is ever activated.
func (as *AddressSpace) copyKernelHalf() *kernel.Error {
	page, err := mapTemporaryFn(as.pml4Frame)
	if err != nil {
		return err
	}
	defer unmapFn(page)

	for i := uintptr(0); i < kconfig.UserPML4Boundary; i++ {
		src := (*pageTableEntry)(unsafe.Pointer(pdtVirtualAddr + (i << mem.PointerShift)))
		dst := (*pageTableEntry)(unsafe.Pointer(page.Address() + (i << mem.PointerShift)))
		*dst = *src
	}

	return nil
}

// mapVMO installs every frame of vmo starting at vaddrBase, one page per
// frame, then records the mapping as a segment.
func (as *AddressSpace) mapVMO(vmo *VMO, vaddrBase uintptr, flags PageTableEntryFlag) *kernel.Error {
	base := PageFromAddress(vaddrBase)
	for i, frame := range vmo.frames {
		if err := as.mapUserPage(base+Page(i), frame, flags|FlagUserAccessible); err != nil {
			return err
		}
	}

	as.segments = append(as.segments, Segment{VAddrBase: vaddrBase, VMO: vmo, Flags: flags})
	return nil
}

// mapUserPage installs a single page/frame mapping in this AddressSpace's
// private half, retargeting the active PDT's recursive entry at this
// table's frame first if this AddressSpace is not the one currently loaded
// in CR3 (the same trick PageDirectoryTable.Map uses). Unlike the
// package-level Map, every intermediate table it allocates — and every
// intermediate table it merely walks through on the way to an already
// mapped leaf — gets the USER-accessible flag, since the MMU refuses
// ring-3 access to a leaf whose ancestors don't all carry it too.
func (as *AddressSpace) mapUserPage(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	if activePdtFrame != as.pml4Frame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(as.pml4Frame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	var err *kernel.Error
	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = frameAllocator(pmm.ZoneKernel)
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)

			nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1]
			mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)
		} else {
			pte.SetFlags(FlagUserAccessible)
		}

		return true
	})

	if activePdtFrame != as.pml4Frame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Activate loads this AddressSpace's PML4 into CR3.
func (as *AddressSpace) Activate() {
	as.pdt.Activate()
}

// PML4Frame returns the physical frame backing this AddressSpace's PML4,
// the value a process control block stores to restore CR3 on a context
// switch back into this process.
func (as *AddressSpace) PML4Frame() pmm.Frame {
	return as.pml4Frame
}

// Segments returns the VMOs currently mapped into this address space, in
// mapping order.
func (as *AddressSpace) Segments() []Segment {
	return as.segments
}

// RemoveSegment drops the segment at index i (as returned by Segments) from
// this AddressSpace's bookkeeping. It does not unmap the segment's pages or
// release its VMO's frames — the caller (munmap) does both itself, since it
// already knows the exact page range and VMO involved.
func (as *AddressSpace) RemoveSegment(i int) {
	as.segments = append(as.segments[:i], as.segments[i+1:]...)
}
