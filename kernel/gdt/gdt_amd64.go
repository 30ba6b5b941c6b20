// Package gdt owns the one piece of the flat GDT the kernel mutates at
// runtime: the TSS descriptor and the TSS structure it points at. The
// GDT's other segment descriptors (null, kernel code/data, user code/data —
// see kconfig's Selector constants) are built once by the UEFI entry
// trampoline before the Go runtime starts and never change again; this
// package only has to locate the trampoline's GDT (via SGDT) and patch in
// the 16-byte long-mode TSS descriptor at kconfig.SelectorTSS, matching
// how kernel/gate builds IDT gate descriptors in Go and leaves only the
// single LIDT instruction to assembly.
package gdt

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel/kconfig"
)

// taskStateSegment is the x86_64 TSS layout (SDM 9.9.1): only RSP0 is ever
// written by this kernel (no IST stacks beyond the ones gate configures
// directly in the IDT, no I/O permission bitmap), but every field is
// present so the struct's size matches what the CPU expects when it reads
// RSP0 on a ring3->ring0 transition.
type taskStateSegment struct {
	reserved0  uint32
	rsp0       uint64
	rsp1       uint64
	rsp2       uint64
	reserved1  uint64
	ist        [7]uint64
	reserved2  uint64
	reserved3  uint16
	iopbOffset uint16
}

// tss is the single TSS instance this kernel uses; there is exactly one
// because there is exactly one CPU (spec Non-goal: SMP).
var tss taskStateSegment

// tssDescriptor is the 16-byte long-mode system-segment descriptor format
// (SDM 7.2.3): a regular 8-byte descriptor extended with the upper 32 bits
// of the base address plus 32 reserved bits, needed because a TSS base can
// lie anywhere in 64-bit virtual address space.
type tssDescriptor struct {
	limitLow   uint16
	baseLow    uint16
	baseMid    uint8
	access     uint8
	limitFlags uint8
	baseHigh   uint8
	baseUpper  uint32
	reserved   uint32
}

const (
	tssAccessPresent = 0x80
	tssAccessType    = 0x09 // 64-bit TSS (available), SDM Table 3-2
)

// Init patches the TSS descriptor already reserved at kconfig.SelectorTSS
// in the trampoline-built GDT so it points at this package's TSS instance,
// then loads TR so the CPU starts honoring it immediately.
func Init() {
	gdtBase, _ := sgdt()
	desc := (*tssDescriptor)(unsafe.Pointer(gdtBase + uintptr(kconfig.SelectorTSS)))

	tssAddr := uint64(uintptr(unsafe.Pointer(&tss)))
	limit := uint32(unsafe.Sizeof(tss)) - 1

	*desc = tssDescriptor{
		limitLow:   uint16(limit),
		baseLow:    uint16(tssAddr),
		baseMid:    uint8(tssAddr >> 16),
		access:     tssAccessPresent | tssAccessType,
		limitFlags: uint8((limit >> 16) & 0x0f),
		baseHigh:   uint8(tssAddr >> 24),
		baseUpper:  uint32(tssAddr >> 32),
	}

	ltr(kconfig.SelectorTSS)
}

// SetRSP0 installs the kernel-mode stack pointer the CPU switches to on the
// next interrupt, exception, or syscall taken while running in user mode.
// kernel/proc calls this on every context switch, pointing it at the
// incoming process's kernel stack top.
func SetRSP0(rsp0 uintptr) {
	tss.rsp0 = uint64(rsp0)
}

// sgdt returns the currently loaded GDT's linear base address and limit.
func sgdt() (base uintptr, limit uint16)

// ltr loads the Task Register with the descriptor at the given selector.
func ltr(selector uint16)
