// Package allocator implements physical frame allocation on top of the bare
// pmm.Frame/pmm.Zone types: a rudimentary boot-time linear allocator used
// only until the kernel's own page tables exist, handing off to a
// steady-state, zone-aware bitmap allocator. It lives in its own package,
// separate from pmm, because it needs vmm.Map/vmm.EarlyReserveRegion to map
// its own bookkeeping memory, and vmm in turn needs pmm.Frame — folding the
// allocator into pmm itself would create an import cycle.
package allocator

import (
	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/hal/uefi"
	"github.com/gitrustux/rustica/kernel/kfmt/early"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
)

var (
	// earlyAllocator is used to bootstrap the kernel before the zoned
	// BitmapAllocator exists.
	earlyAllocator bootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// bootMemAllocator hands out the next available frame after the kernel
// image and every frame it has already allocated, scanning the firmware
// memory map fresh on every call. It cannot free frames — by the time
// anything needs to, BitmapAllocator has already taken over.
type bootMemAllocator struct {
	// kernelStartFrame and kernelEndFrame bound the frames the kernel
	// image itself occupies; AllocFrame never hands these out, and
	// reserveKernelFrames later marks them reserved in the bitmap too.
	kernelStartFrame pmm.Frame
	kernelEndFrame   pmm.Frame

	// lastAllocFrame is the most recently handed-out frame; it starts at
	// kernelEndFrame so the very first allocation lands just past the
	// kernel image.
	lastAllocFrame pmm.Frame

	// allocCount tracks how many frames have been handed out, so
	// reserveEarlyAllocatorFrames can later replay the same sequence of
	// allocations against the bitmap.
	allocCount uint64
}

// init sets up the boot memory allocator's internal state.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStartFrame = pmm.FrameFromAddress(kernelStart)
	alloc.kernelEndFrame = pmm.FrameFromAddress(kernelEnd)
	alloc.lastAllocFrame = alloc.kernelEndFrame
}

// printMemoryMap logs the firmware-reported memory map; it is the only
// place in the boot path that still runs before any formatted (heap
// -backed) logging is available, so it uses the fixed-string kfmt/early
// package.
func (alloc *bootMemAllocator) printMemoryMap() {
	early.Printf("[boot_mem_alloc] system memory map:\n")

	var totalFree mem.Size
	uefi.VisitMemRegions(func(region *uefi.MemoryMapEntry) bool {
		length := mem.Size(region.NumPages) * mem.PageSize
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.PhysStart, region.PhysStart+uint64(length), length, region.Type.String())

		if region.Type == uefi.MemAvailable {
			totalFree += length
		}
		return true
	})
	early.Printf("[boot_mem_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}

// AllocFrame scans the firmware memory map for the next available frame
// strictly after everything allocated so far. It does not distinguish
// zones: it only ever runs during the narrow boot-time window before the
// zoned BitmapAllocator takes over, and every frame it hands out lands well
// inside the KERNEL zone, since the kernel image and its earliest
// bookkeeping are always the very first thing in available memory.
func (alloc *bootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	found := pmm.InvalidFrame

	uefi.VisitMemRegions(func(region *uefi.MemoryMapEntry) bool {
		if region.Type != uefi.MemAvailable {
			return true
		}

		regionStart := pmm.FrameFromAddress(uintptr((mem.Size(region.PhysStart) + mem.PageSize - 1) &^ (mem.PageSize - 1)))
		regionEndAddr := mem.Size(region.PhysStart) + mem.Size(region.NumPages)*mem.PageSize
		regionEnd := pmm.FrameFromAddress(uintptr(regionEndAddr&^(mem.PageSize-1))) - 1

		if alloc.lastAllocFrame >= regionEnd {
			return true
		}

		if alloc.lastAllocFrame < regionStart {
			found = regionStart
		} else {
			found = alloc.lastAllocFrame + 1
		}
		return false
	})

	if !found.Valid() {
		return pmm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocFrame = found
	return found, nil
}
