// +build amd64

package vmm

import "math"

const (
	// pageLevels is the number of page table levels amd64 4-level paging
	// walks: PML4, PDPT, PD, PT.
	pageLevels = 4

	// ptePhysPageMask extracts the physical frame address (bits 12-51)
	// from a page table entry.
	ptePhysPageMask = uintptr(0x000f_ffff_ffff_f000)

	// tempMappingAddr is a reserved virtual page used for short-lived
	// physical page mappings (e.g. zeroing a freshly allocated PDT
	// level). On amd64 this address resolves to table indices 510, 511,
	// 511, 511 under the recursive mapping below.
	tempMappingAddr = uintptr(0xffff_ff7f_ffff_f000)

	// tempMappingAddr2 is a second, independent short-lived mapping slot
	// one page below tempMappingAddr, used when two physical frames need
	// to be addressable at once (a frame-to-frame copy during VMO.Clone).
	tempMappingAddr2 = tempMappingAddr - uintptr(1<<12)
)

var (
	// pdtVirtualAddr exploits the recursive self-mapping installed in the
	// last PML4 entry: setting every page-level index bit to 1 makes the
	// MMU walk back into the PML4 itself at every level, giving the
	// kernel a way to reach any page table's contents as ordinary memory
	// without a physical-to-virtual identity map.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits is the number of virtual address bits consumed by
	// each page table level (9 bits -> 512 entries per level on amd64).
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts is the bit offset of each level's index field
	// within a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)
