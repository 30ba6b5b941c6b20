package vmm

import (
	"reflect"
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
)

// unsafeSlice overlays a []byte on top of an arbitrary memory address, the
// same technique mem.Memset and mem.Memcopy use internally.
func unsafeSlice(addr uintptr, length int) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  length,
		Cap:  length,
		Data: addr,
	}))
}

// frameFreer returns a physical frame to the allocator it came from. It is
// nil until SetFrameFreer is called, at which point VMO.Release starts
// actually reclaiming frames instead of only forgetting them.
var frameFreer FrameFreerFn

// FrameFreerFn releases a physical frame previously obtained from a
// FrameAllocatorFn.
type FrameFreerFn func(pmm.Frame) *kernel.Error

// SetFrameFreer registers the function VMO.Release uses to give frames back
// to the physical allocator.
func SetFrameFreer(freeFn FrameFreerFn) {
	frameFreer = freeFn
}

// VMO (Virtual Memory Object) is the kernel's unit of physical-memory
// ownership: it exclusively owns the frames backing it, and exactly one
// entity holds a reference to each of those frames for as long as the VMO
// exists. There is no copy-on-write and no frame sharing between VMOs —
// Clone eagerly duplicates every frame's contents into fresh storage.
//
// A VMO's identity must stay heap-stable: once created, its address never
// changes. Page-mapping code and ELF-loading code retain a *VMO across
// calls that can themselves allocate (and so can't tolerate the VMO moving
// underneath them), so a VMO must always be referenced through a pointer —
// never stored by value inside a slice or other container that can
// reallocate and move its elements. A process's open VMO table must be
// `[]*VMO` (or an index into a fixed-capacity array), never `[]VMO`.
type VMO struct {
	frames []pmm.Frame
	size   mem.Size
	zone   pmm.Zone
}

// NewVMO allocates a VMO backed by enough frames from zone to cover size
// bytes, rounded up to a page boundary. The frames are not zeroed by
// default; callers that need zeroed memory should call ZeroRange
// explicitly (the ELF loader does this for a segment's BSS tail).
func NewVMO(size mem.Size, zone pmm.Zone) (*VMO, *kernel.Error) {
	pageCount := size.Pages()
	if pageCount == 0 {
		pageCount = 1
	}

	frames := make([]pmm.Frame, 0, pageCount)
	for i := uint(0); i < pageCount; i++ {
		frame, err := frameAllocator(zone)
		if err != nil {
			for _, f := range frames {
				releaseFrame(f)
			}
			return nil, err
		}
		frames = append(frames, frame)
	}

	return &VMO{frames: frames, size: mem.Size(pageCount) * mem.PageSize, zone: zone}, nil
}

// Size returns the VMO's size in bytes, rounded up to a page boundary.
func (v *VMO) Size() mem.Size { return v.size }

// FrameCount returns the number of physical frames backing the VMO.
func (v *VMO) FrameCount() int { return len(v.frames) }

// FrameAt returns the physical frame backing the page at the given byte
// offset into the VMO.
func (v *VMO) FrameAt(offset mem.Size) pmm.Frame {
	return v.frames[uint(offset)>>mem.PageShift]
}

// WriteAt copies data into the VMO starting at byte offset, which may span
// multiple backing frames. It is used by the ELF loader to populate a
// segment's file-backed bytes before the segment is ever mapped into a
// user address space.
func (v *VMO) WriteAt(offset mem.Size, data []byte) *kernel.Error {
	for len(data) > 0 {
		frameIndex := uint(offset) >> mem.PageShift
		pageOff := mem.Size(uint(offset) & (mem.PageSize - 1))
		chunk := mem.PageSize - pageOff
		if chunk > mem.Size(len(data)) {
			chunk = mem.Size(len(data))
		}

		page, err := mapTemporaryFn(v.frames[frameIndex])
		if err != nil {
			return err
		}
		dst := unsafeSlice(page.Address()+uintptr(pageOff), int(chunk))
		copy(dst, data[:chunk])
		unmapFn(page)

		data = data[chunk:]
		offset += chunk
	}
	return nil
}

// ZeroRange zeroes length bytes starting at byte offset. It writes in
// small, fixed-size chunks rather than one large Memset over a temporary
// mapping that spans many frames, since the caller (the ELF loader,
// zeroing a segment's BSS tail) may be running deep in a call stack with a
// bounded kernel stack and cannot afford a large on-stack staging buffer.
func (v *VMO) ZeroRange(offset, length mem.Size) *kernel.Error {
	const chunkSize = 256

	var zeros [chunkSize]byte
	for length > 0 {
		n := mem.Size(chunkSize)
		if n > length {
			n = length
		}
		if err := v.WriteAt(offset, zeros[:n]); err != nil {
			return err
		}
		offset += n
		length -= n
	}
	return nil
}

// Clone returns a new VMO of the same size and zone whose frames are an
// eager, byte-for-byte copy of this VMO's frames. There is no copy-on-write
// path anywhere in this kernel: Clone is the only way a process's memory is
// ever duplicated (fork-style process creation), and it pays the full copy
// cost up front.
func (v *VMO) Clone() (*VMO, *kernel.Error) {
	clone, err := NewVMO(v.size, v.zone)
	if err != nil {
		return nil, err
	}

	for i, srcFrame := range v.frames {
		if err := copyFrame(clone.frames[i], srcFrame); err != nil {
			clone.Release()
			return nil, err
		}
	}
	return clone, nil
}

// MapInto installs this VMO's frames into an address space starting at
// vaddrBase, one page per frame, using flags for every mapped page.
func (v *VMO) MapInto(as *AddressSpace, vaddrBase uintptr, flags PageTableEntryFlag) *kernel.Error {
	return as.mapVMO(v, vaddrBase, flags)
}

// Release returns every frame backing the VMO to the physical allocator.
// After Release the VMO must not be mapped into any address space or
// written to again.
func (v *VMO) Release() {
	for _, f := range v.frames {
		releaseFrame(f)
	}
	v.frames = nil
}

func releaseFrame(f pmm.Frame) {
	if frameFreer == nil {
		return
	}
	_ = frameFreer(f)
}

func copyFrame(dst, src pmm.Frame) *kernel.Error {
	srcPage, err := mapTemporaryFn(src)
	if err != nil {
		return err
	}

	dstPage, err := mapTemporarySecondaryFn(dst)
	if err != nil {
		unmapFn(srcPage)
		return err
	}

	mem.Memcopy(dstPage.Address(), srcPage.Address(), mem.PageSize)

	unmapFn(dstPage)
	unmapFn(srcPage)
	return nil
}
