package allocator

import (
	"bytes"
	"math"
	"testing"
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/hal"
	"github.com/gitrustux/rustica/kernel/hal/uefi"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
)

func TestSetupPoolBitmaps(t *testing.T) {
	defer func() {
		mapFn = vmm.Map
		reserveRegionFn = vmm.EarlyReserveRegion
	}()

	installMockBootInfo([]uefi.MemoryMapEntry{
		{PhysStart: 0, NumPages: 300, Type: uefi.MemAvailable},
	})

	// The mock region fits entirely inside the KERNEL zone, so it yields
	// exactly one pool; the allocator needs to reserve enough pages to
	// hold it plus its free bitmap.
	var (
		alloc   BitmapAllocator
		physMem = make([]byte, 2*mem.PageSize)
	)

	// Init phys mem with junk
	for i := 0; i < len(physMem); i++ {
		physMem[i] = 0xf0
	}

	mapCallCount := 0
	mapFn = func(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		mapCallCount++
		return nil
	}

	reserveCallCount := 0
	reserveRegionFn = func(_ mem.Size) (uintptr, *kernel.Error) {
		reserveCallCount++
		return uintptr(unsafe.Pointer(&physMem[0])), nil
	}

	if err := alloc.setupPoolBitmaps(); err != nil {
		t.Fatal(err)
	}

	if exp := 1; reserveCallCount != exp {
		t.Fatalf("expected allocator to call vmm.EarlyReserveRegion %d times; called %d", exp, reserveCallCount)
	}

	if exp, got := 1, len(alloc.pools); got != exp {
		t.Fatalf("expected allocator to initialize %d pool; got %d", exp, got)
	}

	if mapCallCount == 0 {
		t.Fatal("expected allocator to call vmm.Map at least once to map its bookkeeping pages")
	}

	pool := alloc.pools[0]
	if pool.zone != pmm.ZoneKernel {
		t.Fatalf("expected the single pool to serve the kernel zone; got %v", pool.zone)
	}

	if exp, got := int(math.Ceil(float64(pool.freeCount)/64.0)), len(pool.freeBitmap); got != exp {
		t.Errorf("expected bitmap len to be %d; got %d", exp, got)
	}

	for blockIndex, block := range pool.freeBitmap {
		if block != 0 {
			t.Errorf("expected bitmap block %d to be cleared; got %d", blockIndex, block)
		}
	}
}

func TestSetupPoolBitmapsErrors(t *testing.T) {
	defer func() {
		mapFn = vmm.Map
		reserveRegionFn = vmm.EarlyReserveRegion
		earlyAllocator = bootMemAllocator{}
	}()

	installMockBootInfo([]uefi.MemoryMapEntry{
		{PhysStart: 0, NumPages: 32768, Type: uefi.MemAvailable},
	})
	var alloc BitmapAllocator

	t.Run("vmm.EarlyReserveRegion returns an error", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "something went wrong"}

		reserveRegionFn = func(_ mem.Size) (uintptr, *kernel.Error) {
			return 0, expErr
		}

		if err := alloc.setupPoolBitmaps(); err != expErr {
			t.Fatalf("expected to get error: %v; got %v", expErr, err)
		}
	})

	t.Run("vmm.Map returns an error", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "something went wrong"}

		reserveRegionFn = func(_ mem.Size) (uintptr, *kernel.Error) {
			return 0, nil
		}

		mapFn = func(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		if err := alloc.setupPoolBitmaps(); err != expErr {
			t.Fatalf("expected to get error: %v; got %v", expErr, err)
		}
	})

	t.Run("earlyAllocator returns an error", func(t *testing.T) {
		reserveRegionFn = func(_ mem.Size) (uintptr, *kernel.Error) {
			return 0, nil
		}
		mapFn = func(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
			return nil
		}

		// A tiny available region that the early allocator has already
		// exhausted entirely: any attempt to pull a frame for the
		// allocator's own bookkeeping pages must fail immediately.
		installMockBootInfo([]uefi.MemoryMapEntry{
			{PhysStart: 0, NumPages: 2, Type: uefi.MemAvailable},
		})
		earlyAllocator.init(0, 1*mem.PageSize)

		if err := alloc.setupPoolBitmaps(); err != errBootAllocOutOfMemory {
			t.Fatalf("expected to get error: %v; got %v", errBootAllocOutOfMemory, err)
		}
	})
}

func TestBitmapAllocatorMarkFrame(t *testing.T) {
	var alloc = BitmapAllocator{
		pools: []framePool{
			{
				startFrame: pmm.Frame(0),
				endFrame:   pmm.Frame(127),
				freeCount:  128,
				freeBitmap: make([]uint64, 2),
			},
		},
		totalPages: 128,
	}

	lastFrame := pmm.Frame(alloc.totalPages)
	for frame := pmm.Frame(0); frame < lastFrame; frame++ {
		alloc.markFrame(0, frame, markReserved)

		block := uint64(frame / 64)
		blockOffset := uint64(frame % 64)
		bitIndex := (63 - blockOffset)
		bitMask := uint64(1 << bitIndex)

		if alloc.pools[0].freeBitmap[block]&bitMask != bitMask {
			t.Errorf("[frame %d] expected block[%d], bit %d to be set", frame, block, bitIndex)
		}

		alloc.markFrame(0, frame, markFree)

		if alloc.pools[0].freeBitmap[block]&bitMask != 0 {
			t.Errorf("[frame %d] expected block[%d], bit %d to be unset", frame, block, bitIndex)
		}
	}

	// Calling markFrame with a frame not part of the pool should be a no-op
	alloc.markFrame(0, pmm.Frame(0xbadf00d), markReserved)
	for blockIndex, block := range alloc.pools[0].freeBitmap {
		if block != 0 {
			t.Errorf("expected all blocks to be set to 0; block %d is set to %d", blockIndex, block)
		}
	}

	// Calling markFrame with a negative pool index should be a no-op
	alloc.markFrame(-1, pmm.Frame(0), markReserved)
	for blockIndex, block := range alloc.pools[0].freeBitmap {
		if block != 0 {
			t.Errorf("expected all blocks to be set to 0; block %d is set to %d", blockIndex, block)
		}
	}
}

func TestBitmapAllocatorPoolForFrame(t *testing.T) {
	var alloc = BitmapAllocator{
		pools: []framePool{
			{
				startFrame: pmm.Frame(0),
				endFrame:   pmm.Frame(63),
				freeCount:  64,
				freeBitmap: make([]uint64, 1),
			},
			{
				startFrame: pmm.Frame(128),
				endFrame:   pmm.Frame(191),
				freeCount:  64,
				freeBitmap: make([]uint64, 1),
			},
		},
		totalPages: 128,
	}

	specs := []struct {
		frame    pmm.Frame
		expIndex int
	}{
		{pmm.Frame(0), 0},
		{pmm.Frame(63), 0},
		{pmm.Frame(64), -1},
		{pmm.Frame(128), 1},
		{pmm.Frame(192), -1},
	}

	for specIndex, spec := range specs {
		if got := alloc.poolForFrame(spec.frame); got != spec.expIndex {
			t.Errorf("[spec %d] expected to get pool index %d; got %d", specIndex, spec.expIndex, got)
		}
	}
}

func TestAllocatorPackageInit(t *testing.T) {
	origActiveTerminal := hal.ActiveTerminal
	defer func() {
		mapFn = vmm.Map
		reserveRegionFn = vmm.EarlyReserveRegion
		earlyAllocator = bootMemAllocator{}
		FrameAllocator = BitmapAllocator{}
		hal.ActiveTerminal = origActiveTerminal
	}()

	term := &fakeTerminal{}
	hal.ActiveTerminal = term

	installMockBootInfo([]uefi.MemoryMapEntry{
		{PhysStart: 0, NumPages: 32768, Type: uefi.MemAvailable},
	})

	t.Run("success", func(t *testing.T) {
		physMem := make([]byte, 4*mem.PageSize)

		mapFn = func(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
			return nil
		}

		reserveRegionFn = func(_ mem.Size) (uintptr, *kernel.Error) {
			return uintptr(unsafe.Pointer(&physMem[0])), nil
		}

		if err := Init(0x100000, 0x140000); err != nil {
			t.Fatal(err)
		}

		out := string(term.buf)
		if !bytes.Contains(term.buf, []byte("[boot_mem_alloc] system memory map:")) {
			t.Errorf("expected the boot memory map banner in the captured output; got %q", out)
		}
		if !bytes.Contains(term.buf, []byte("[bitmap_alloc] page stats:")) {
			t.Errorf("expected the bitmap allocator page stats in the captured output; got %q", out)
		}

		if frame, err := FrameAllocator.AllocFrame(pmm.ZoneKernel); err != nil {
			t.Errorf("expected AllocFrame to succeed after Init; got %v", err)
		} else if !frame.Valid() {
			t.Error("expected AllocFrame to return a valid frame after Init")
		}
	})

	t.Run("error", func(t *testing.T) {
		earlyAllocator = bootMemAllocator{}
		FrameAllocator = BitmapAllocator{}

		expErr := &kernel.Error{Module: "test", Message: "something went wrong"}

		mapFn = func(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		if err := Init(0x100000, 0x140000); err != expErr {
			t.Fatalf("expected to get error: %v; got %v", expErr, err)
		}
	})
}
