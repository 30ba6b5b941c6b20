package allocator

import (
	"reflect"
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/hal/uefi"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/kfmt/early"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
)

var (
	// FrameAllocator is the BitmapAllocator instance that serves every
	// frame allocation once the boot-time allocator has handed off.
	FrameAllocator BitmapAllocator

	// The following functions are used by tests to mock calls to the vmm
	// package and are automatically inlined by the compiler.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map

	// zoneBoundaryFrame is the first frame that belongs to the USER
	// zone; every frame below it is KERNEL. A memory region straddling
	// the boundary is split into two pools, one per zone, so a single
	// region never mixes zones within one pool's bitmap.
	zoneBoundaryFrame = pmm.FrameFromAddress(kconfig.KernelZoneSize)
)

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

type framePool struct {
	// zone is the pmm.Zone this pool serves; AllocFrame only ever
	// scans pools whose zone matches the requested one.
	zone pmm.Zone

	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame tracks the last frame in the pool.
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool.
	freeBitmap    []uint64
	freeBitmapHdr reflect.SliceHeader
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps, one pool
// per zone per contiguous firmware-reported region.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools    []framePool
	poolsHdr reflect.SliceHeader
}

// zoneRange describes one zone-homogeneous sub-range of a firmware memory
// region.
type zoneRange struct {
	zone       pmm.Zone
	start, end pmm.Frame
}

// splitByZone splits [start, end] at zoneBoundaryFrame so that every
// returned range is entirely within one zone.
func splitByZone(start, end pmm.Frame) []zoneRange {
	switch {
	case end < zoneBoundaryFrame:
		return []zoneRange{{pmm.ZoneKernel, start, end}}
	case start >= zoneBoundaryFrame:
		return []zoneRange{{pmm.ZoneUser, start, end}}
	default:
		return []zoneRange{
			{pmm.ZoneKernel, start, zoneBoundaryFrame - 1},
			{pmm.ZoneUser, zoneBoundaryFrame, end},
		}
	}
}

// init allocates space for the allocator structures using the early bootmem
// allocator and flags any allocated pages as reserved.
func (alloc *BitmapAllocator) init() *kernel.Error {
	if err := alloc.setupPoolBitmaps(); err != nil {
		return err
	}

	alloc.reserveKernelFrames()
	alloc.reserveEarlyAllocatorFrames()
	alloc.printStats()
	return nil
}

// visitRegionZoneRanges visits every zone-homogeneous sub-range of every
// available firmware memory region, in the same order both setupPoolBitmaps
// passes rely on.
func visitRegionZoneRanges(visit func(zr zoneRange) bool) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)

	uefi.VisitMemRegions(func(region *uefi.MemoryMapEntry) bool {
		if region.Type != uefi.MemAvailable {
			return true
		}

		regionLength := region.NumPages * uint64(mem.PageSize)
		regionStartFrame := pmm.Frame(((region.PhysStart + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysStart+regionLength) &^ pageSizeMinus1)>>mem.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}

		for _, zr := range splitByZone(regionStartFrame, regionEndFrame) {
			if !visit(zr) {
				return false
			}
		}
		return true
	})
}

// setupPoolBitmaps uses the early allocator and vmm region reservation helper
// to initialize the list of available pools and their free bitmap slices.
func (alloc *BitmapAllocator) setupPoolBitmaps() *kernel.Error {
	var (
		err                 *kernel.Error
		sizeofPool          = unsafe.Sizeof(framePool{})
		requiredBitmapBytes mem.Size
	)

	// First pass: count pools and calculate their pool bitmap requirements.
	visitRegionZoneRanges(func(zr zoneRange) bool {
		alloc.poolsHdr.Len++
		alloc.poolsHdr.Cap++

		pageCount := uint32(zr.end - zr.start + 1)
		alloc.totalPages += pageCount

		// To represent the free page bitmap we need pageCount bits. Since our
		// slice uses uint64 for storing the bitmap we need to round up the
		// required bits so they are a multiple of 64 bits
		requiredBitmapBytes += mem.Size(((pageCount + 63) &^ 63) >> 3)
		return true
	})

	// Reserve enough pages to hold the allocator state
	requiredBytes := mem.Size(((uint64(uintptr(alloc.poolsHdr.Len)*sizeofPool) + uint64(requiredBitmapBytes)) + uint64(mem.PageSize-1)) &^ uint64(mem.PageSize-1))
	requiredPages := requiredBytes >> mem.PageShift
	alloc.poolsHdr.Data, err = reserveRegionFn(requiredBytes)
	if err != nil {
		return err
	}

	for page, index := vmm.PageFromAddress(alloc.poolsHdr.Data), mem.Size(0); index < requiredPages; page, index = page+1, index+1 {
		nextFrame, err := earlyAllocator.AllocFrame()
		if err != nil {
			return err
		}

		if err = mapFn(page, nextFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}

		mem.Memset(page.Address(), 0, mem.PageSize)
	}

	alloc.pools = *(*[]framePool)(unsafe.Pointer(&alloc.poolsHdr))

	// Run a second pass to initialize the free bitmap slices for all pools
	bitmapStartAddr := alloc.poolsHdr.Data + uintptr(alloc.poolsHdr.Len)*sizeofPool
	poolIndex := 0
	visitRegionZoneRanges(func(zr zoneRange) bool {
		bitmapBytes := uintptr(((zr.end - zr.start + 1 + 63) &^ 63) >> 3)

		alloc.pools[poolIndex].zone = zr.zone
		alloc.pools[poolIndex].startFrame = zr.start
		alloc.pools[poolIndex].endFrame = zr.end
		alloc.pools[poolIndex].freeCount = uint32(zr.end - zr.start + 1)
		alloc.pools[poolIndex].freeBitmapHdr.Len = int(bitmapBytes >> 3)
		alloc.pools[poolIndex].freeBitmapHdr.Cap = alloc.pools[poolIndex].freeBitmapHdr.Len
		alloc.pools[poolIndex].freeBitmapHdr.Data = bitmapStartAddr
		alloc.pools[poolIndex].freeBitmap = *(*[]uint64)(unsafe.Pointer(&alloc.pools[poolIndex].freeBitmapHdr))

		bitmapStartAddr += bitmapBytes
		poolIndex++
		return true
	})

	return nil
}

// markFrame updates the reservation flag for the bitmap entry that corresponds
// to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame pmm.Frame, flag markAs) {
	if poolIndex < 0 || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	// The offset in the block is given by: frame % 64. As the bitmap uses a
	// big-endian representation we need to set the bit at index: 63 - offset
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	switch flag {
	case markFree:
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not contained in any of the available memory pools (e.g it
// points to a reserved memory region).
func (alloc *BitmapAllocator) poolForFrame(frame pmm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

// reserveKernelFrames makes as reserved the bitmap entries for the frames
// occupied by the kernel image.
func (alloc *BitmapAllocator) reserveKernelFrames() {
	// Flag frames used by the kernel image as reserved. The kernel must
	// occupy a contiguous memory block entirely within the KERNEL zone.
	poolIndex := alloc.poolForFrame(earlyAllocator.kernelStartFrame)
	for frame := earlyAllocator.kernelStartFrame; frame <= earlyAllocator.kernelEndFrame; frame++ {
		alloc.markFrame(poolIndex, frame, markReserved)
	}
}

// reserveEarlyAllocatorFrames makes as reserved the bitmap entries for the frames
// already allocated by the early allocator.
func (alloc *BitmapAllocator) reserveEarlyAllocatorFrames() {
	// We now need to decommission the early allocator by flagging all frames
	// allocated by it as reserved. The allocator itself does not track
	// individual frames but only a counter of allocated frames. To get
	// the list of frames we reset its internal state and "replay" the
	// allocation requests to get the correct frames.
	allocCount := earlyAllocator.allocCount
	earlyAllocator.allocCount, earlyAllocator.lastAllocFrame = 0, earlyAllocator.kernelEndFrame
	for i := uint64(0); i < allocCount; i++ {
		frame, _ := earlyAllocator.AllocFrame()
		alloc.markFrame(
			alloc.poolForFrame(frame),
			frame,
			markReserved,
		)
	}
}

// AllocFrame reserves and returns the next free frame from the requested
// zone, or an out-of-memory error if every pool for that zone is full.
func (alloc *BitmapAllocator) AllocFrame(zone pmm.Zone) (pmm.Frame, *kernel.Error) {
	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.zone != zone || pool.freeCount == 0 {
			continue
		}

		for block, word := range pool.freeBitmap {
			if word == uint64(0xffffffffffffffff) {
				continue
			}

			for bit := uint(0); bit < 64; bit++ {
				mask := uint64(1 << (63 - bit))
				if word&mask != 0 {
					continue
				}

				frame := pool.startFrame + pmm.Frame(uint64(block)<<6+uint64(bit))
				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return pmm.InvalidFrame, errOutOfMemory(zone)
}

func errOutOfMemory(zone pmm.Zone) *kernel.Error {
	return &kernel.Error{Module: "bitmap_alloc", Message: "no free frames left in zone " + zone.String()}
}

func (alloc *BitmapAllocator) printStats() {
	early.Printf(
		"[bitmap_alloc] page stats: free: %d/%d (%d reserved)\n",
		alloc.totalPages-alloc.reservedPages,
		alloc.totalPages,
		alloc.reservedPages,
	)
}

// allocatorFrameAllocFn adapts BitmapAllocator.AllocFrame to
// vmm.FrameAllocatorFn. It is passed to vmm.SetFrameAllocator instead of
// FrameAllocator.AllocFrame directly so the compiler's escape analysis
// doesn't decide FrameAllocator itself escapes to the heap.
func allocatorFrameAllocFn(zone pmm.Zone) (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame(zone)
}

// earlyAllocFrame adapts the boot-time allocator to vmm.FrameAllocatorFn; it
// ignores zone because it only ever runs before the zoned BitmapAllocator
// exists (see bootMemAllocator.AllocFrame's doc comment).
func earlyAllocFrame(pmm.Zone) (pmm.Frame, *kernel.Error) {
	return earlyAllocator.AllocFrame()
}

// Init sets up the kernel's physical memory allocation subsystem: the
// boot-time linear allocator first, then the zoned bitmap allocator that
// replaces it as vmm's registered frame source.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	earlyAllocator.init(kernelStart, kernelEnd)
	earlyAllocator.printMemoryMap()

	vmm.SetFrameAllocator(earlyAllocFrame)
	if err := FrameAllocator.init(); err != nil {
		return err
	}

	vmm.SetFrameAllocator(allocatorFrameAllocFn)
	vmm.SetFrameFreer(FreeFrame)
	return nil
}

// FreeFrame returns frame to the pool it was allocated from. It is
// registered with vmm.SetFrameFreer so VMO.Release can reclaim frames.
func FreeFrame(frame pmm.Frame) *kernel.Error {
	poolIndex := FrameAllocator.poolForFrame(frame)
	if poolIndex < 0 {
		return &kernel.Error{Module: "bitmap_alloc", Message: "frame does not belong to any known pool"}
	}

	FrameAllocator.markFrame(poolIndex, frame, markFree)
	return nil
}
