// Package pmm manages physical memory frame allocations. Frames are handed
// out from one of two zones (see Zone): a small kernel zone sized to cover
// the kernel heap and page-table bookkeeping, and a much larger user zone
// that process address spaces and page-ins draw from. Splitting the frame
// space into zones keeps a runaway user allocation from ever starving the
// kernel's own structures, the one accounting rule spec.md's memory model
// actually requires of the allocator.
package pmm

import (
	"math"

	"github.com/gitrustux/rustica/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by page allocators when they fail to reserve the
// requested frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address, rounding down if the address is not frame-aligned.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// Zone identifies which frame pool an allocation is drawn from.
type Zone uint8

const (
	// ZoneKernel serves the kernel heap and page-table allocations.
	ZoneKernel Zone = iota
	// ZoneUser serves process address spaces (ELF images, stacks,
	// anonymous/file-backed VMOs).
	ZoneUser
)

func (z Zone) String() string {
	if z == ZoneKernel {
		return "kernel"
	}
	return "user"
}
