// Package heap implements the kernel's free-list allocator for dynamically
// sized kernel memory once paging is up. No other kernel package calls
// Alloc or Free; structures such as the process table are fixed-size
// arrays and do not come from this heap. It is initialized
// once, early in boot, strictly after the physical memory allocator and
// strictly before anything else tries to allocate.
//
// The allocator keeps a single doubly-linked list of every block in the
// heap, in address order, whether free or allocated; a block header
// embedded at the start of each block carries its size and list pointers.
// Allocation does a best-fit scan of that list and, when a block is larger
// than the request needs, splits it in place. Splitting a block has one
// invariant that matters more than anything else here: the remainder
// block's header must be fully written, and the original block's size
// field updated to the post-split size, before the request is ever handed
// back to the caller. Getting this ordering backwards — returning a
// pointer while the original block's size field still claims the
// pre-split size — makes the allocator re-offer the same bytes on its next
// scan, aliasing two live allocations onto the same memory.
package heap

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/pmm/allocator"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
)

// minBlockSize is large enough to absorb a blockHeader plus a useful
// minimum payload without producing pathologically small fragments; values
// much smaller than this were found to increase fragmentation to the point
// of triggering the same block-aliasing failure mode H1 guards against,
// just via a different path (a "remainder" too small to ever be reused).
const minBlockSize = mem.Size(1024)

const alignment = 16

var (
	errOutOfMemory   = &kernel.Error{Module: "heap", Message: "out of heap memory"}
	errDoubleFree    = &kernel.Error{Module: "heap", Message: "block already free"}
	errCorruptHeader = &kernel.Error{Module: "heap", Message: "heap integrity check failed"}

	// allocFrameFn and mapFn are package-level indirections that a test
	// can override; the compiler inlines them away in the kernel build.
	allocFrameFn = allocator.FrameAllocator.AllocFrame
	mapFn        = vmm.Map
)

// blockHeader sits at the start of every block in the heap, allocated or
// free. size always covers the header itself plus the block's payload.
type blockHeader struct {
	size      mem.Size
	next      uintptr
	prev      uintptr
	allocated bool
}

var headerSize = mem.Size(unsafe.Sizeof(blockHeader{}))

var (
	heapStart, heapEnd uintptr
	firstBlock         uintptr
	allocatedBytes     mem.Size
)

func blockAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

func payloadOf(blockAddr uintptr) uintptr {
	return blockAddr + uintptr(headerSize)
}

func blockOfPayload(payload uintptr) uintptr {
	return payload - uintptr(headerSize)
}

func roundUp(size mem.Size, align mem.Size) mem.Size {
	return (size + align - 1) &^ (align - 1)
}

// Init reserves kconfig.HeapSize bytes of kernel virtual address space,
// backs every page with a fresh frame from the KERNEL zone, and sets up
// the heap as one large free block spanning the whole region. It must run
// after the physical frame allocator (allocator.Init) and before any other
// subsystem allocates.
func Init() *kernel.Error {
	size := mem.Size(kconfig.HeapSize)

	startAddr, err := vmm.EarlyReserveRegion(size)
	if err != nil {
		return err
	}

	pageCount := size.Pages()
	for i, page := uint32(0), vmm.PageFromAddress(startAddr); i < pageCount; i, page = i+1, page+1 {
		frame, err := allocFrameFn(pmm.ZoneKernel)
		if err != nil {
			return err
		}
		if err := mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
	}

	heapStart = startAddr
	heapEnd = startAddr + uintptr(size)
	firstBlock = startAddr

	hdr := blockAt(firstBlock)
	*hdr = blockHeader{size: size}

	return nil
}

// Alloc reserves size bytes and returns the address of the usable payload.
func Alloc(size mem.Size) (uintptr, *kernel.Error) {
	totalSize := roundUp(size+headerSize, alignment)
	if totalSize < minBlockSize {
		totalSize = minBlockSize
	}

	var (
		best     uintptr
		bestDiff = mem.Size(1<<63 - 1)
	)
	for addr := firstBlock; addr != 0; addr = blockAt(addr).next {
		b := blockAt(addr)
		if b.allocated || b.size < totalSize {
			continue
		}
		if diff := b.size - totalSize; diff < bestDiff {
			best, bestDiff = addr, diff
		}
	}

	if best == 0 {
		return 0, errOutOfMemory
	}

	b := blockAt(best)
	if bestDiff >= minBlockSize {
		remainderAddr := best + uintptr(totalSize)
		remainder := blockAt(remainderAddr)

		// H1: the remainder's header is written in full, including its
		// own size, before the original block's size field is touched.
		*remainder = blockHeader{
			size:      bestDiff,
			next:      b.next,
			prev:      best,
			allocated: false,
		}
		if remainder.next != 0 {
			blockAt(remainder.next).prev = remainderAddr
		}

		b.next = remainderAddr
		b.size = totalSize
	}

	b.allocated = true
	allocatedBytes += b.size

	return payloadOf(best), nil
}

// Free releases a block previously returned by Alloc, coalescing it with
// an adjacent free neighbor on either side.
func Free(payload uintptr) *kernel.Error {
	addr := blockOfPayload(payload)
	if addr < heapStart || addr >= heapEnd {
		return errCorruptHeader
	}

	b := blockAt(addr)
	if !b.allocated {
		return errDoubleFree
	}

	b.allocated = false
	allocatedBytes -= b.size

	if b.next != 0 && !blockAt(b.next).allocated {
		next := blockAt(b.next)
		b.size += next.size
		b.next = next.next
		if b.next != 0 {
			blockAt(b.next).prev = addr
		}
	}

	if b.prev != 0 && !blockAt(b.prev).allocated {
		prev := blockAt(b.prev)
		prev.size += b.size
		prev.next = b.next
		if prev.next != 0 {
			blockAt(prev.next).prev = b.prev
		}
	}

	return nil
}

// VerifyIntegrity walks the whole block list and confirms that free plus
// allocated bytes exactly cover the heap, per the invariant every split and
// coalesce operation above must preserve. It is not called on every
// Alloc/Free — that would make every allocation O(n) — and nothing in
// the repository calls it; it exists to catch a regression in the
// split/coalesce bookkeeping on demand.
func VerifyIntegrity() *kernel.Error {
	var total mem.Size
	for addr := firstBlock; addr != 0; addr = blockAt(addr).next {
		total += blockAt(addr).size
	}

	if total != mem.Size(heapEnd-heapStart) {
		return errCorruptHeader
	}
	return nil
}

// Stats reports the heap's current usage for tools/heapprofile.
func Stats() (total, used mem.Size) {
	return mem.Size(heapEnd - heapStart), allocatedBytes
}

// BlockInfo describes one block in the heap's block list, in address order.
type BlockInfo struct {
	Size      mem.Size
	Allocated bool
}

// Snapshot walks the block list and reports every block's size and
// allocation state, in address order. Intended for tools/heapprofile to
// serialize off the debug port; never called on a hot path.
func Snapshot() []BlockInfo {
	var blocks []BlockInfo
	for addr := firstBlock; addr != 0; addr = blockAt(addr).next {
		b := blockAt(addr)
		blocks = append(blocks, BlockInfo{Size: b.size, Allocated: b.allocated})
	}
	return blocks
}
