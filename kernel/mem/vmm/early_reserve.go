package vmm

import (
	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/mem"
)

// earlyReserveLastUsed tracks the last address handed out by
// EarlyReserveRegion; it starts below both fixed temporary-mapping slots
// (the top of the kernel's reserved virtual range) and grows downward.
var earlyReserveLastUsed = tempMappingAddr2

var errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "kernel virtual address space exhausted"}

// EarlyReserveRegion reserves a page-aligned contiguous run of kernel
// virtual address space of at least size bytes and returns its start
// address. It never establishes a mapping itself — MapRegion does that —
// it only hands out non-overlapping address ranges, which is all that's
// needed before the heap exists and every mapping is still set up by hand.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)

	if uintptr(size) > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= uintptr(size)
	return earlyReserveLastUsed, nil
}
