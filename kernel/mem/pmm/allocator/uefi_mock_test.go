package allocator

import (
	"runtime"
	"unsafe"

	"github.com/gitrustux/rustica/kernel/hal/uefi"
)

// mockBootInfo mirrors the unexported layout uefi.Init expects at a raw
// physical address (see kernel/hal/uefi/uefi.go): a magic, the framebuffer
// descriptor, the ACPI RSDP address and a pointer/length pair describing the
// firmware memory map. Tests cannot reach the unexported type itself, but
// every field is a plain, exported-typed value, so a field-for-field replica
// struct lays out identically.
type mockBootInfo struct {
	magic uint64

	framebuffer uefi.FramebufferInfo

	rsdpAddr uint64

	memoryMapAddr    uint64
	memoryMapEntries uint32
	_                uint32
}

const mockBootInfoMagic = 0x4546495f424f4f54 // "EFI_BOOT", see uefi.go

// installMockBootInfo points the uefi package at a synthetic boot info block
// describing the given memory regions, so tests can drive
// uefi.VisitMemRegions without any real firmware having run. The block is
// a heap-escaping named local, so it stays reachable for as long as uefi
// functions may still dereference it; runtime.KeepAlive pins both the
// regions slice and the block itself against the GC until Init returns.
func installMockBootInfo(regions []uefi.MemoryMapEntry) {
	block := &mockBootInfo{
		magic:            mockBootInfoMagic,
		memoryMapAddr:    uint64(uintptr(unsafe.Pointer(&regions[0]))),
		memoryMapEntries: uint32(len(regions)),
	}

	if !uefi.Init(uintptr(unsafe.Pointer(block))) {
		panic("installMockBootInfo: magic check failed; mockBootInfo layout drifted from uefi.bootInfo")
	}

	runtime.KeepAlive(block)
	runtime.KeepAlive(regions)
}

// fakeTerminal is a minimal hal.Terminal substitute that captures
// early.Printf/kfmt.Printf output into a buffer instead of writing through a
// real console, sidestepping the console/tty machinery entirely.
type fakeTerminal struct {
	buf []byte
}

func (f *fakeTerminal) WriteByte(b byte) error {
	f.buf = append(f.buf, b)
	return nil
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}
