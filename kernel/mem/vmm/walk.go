package vmm

import (
	"github.com/gitrustux/rustica/kernel/mem"
	"unsafe"
)

// ptePtrFn is overridden by tests to avoid dereferencing fabricated
// addresses; the compiler inlines it away in the kernel build.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// pageTableWalker is invoked once per page table level visited by walk. It
// receives the level index (0 = PML4) and the entry at that level for the
// address being walked; returning false aborts the walk.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk descends the active page tables for virtAddr, calling walkFn with
// the entry at each level via the recursive self-mapping at pdtVirtualAddr.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = 0, pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		entryAddr <<= pageLevelBits[level]
	}
}
