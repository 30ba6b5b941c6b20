// Package kconfig centralizes the kernel's compile-time configuration:
// there is no runtime configuration file (the kernel never reads an
// environment or a config file, per its external-interfaces boundary), but
// every subsystem still has constants that would otherwise be scattered
// magic numbers. This mirrors the teacher's architecture-suffixed constant
// files (kernel/mem/constants_amd64.go, kernel/mem/vmm/vmm_constants_amd64.go).
package kconfig

import "time"

// GDT selector constants. The flat GDT itself is built by the UEFI entry
// trampoline before the Go runtime starts; these offsets must stay in sync
// with it.
const (
	SelectorNull       = 0x00
	SelectorKernelCode = 0x08
	SelectorKernelData = 0x10
	// SelectorUserCode and SelectorUserData carry an RPL of 3 baked into
	// the low two bits, as required for the privilege-level change a
	// syscall/IRETQ back to userspace performs.
	SelectorUserCode = 0x1b
	SelectorUserData = 0x23
	SelectorTSS      = 0x28
)

// MaxProcesses bounds the fixed process table (spec §4.5): there is no
// dynamic process table growth.
const MaxProcesses = 64

// TimeSlice is the nominal scheduling quantum. No code reads it: the LAPIC
// timer runs from a fixed, uncalibrated count set in kmain, so the real tick
// period does not follow this value.
const TimeSlice = 20 * time.Millisecond

// KernelStackSize and UserStackSize bound the two stacks every process
// owns; the user stack backs a VMO mapped at UserStackTop growing down.
const (
	KernelStackSize = 16 * 1024
	UserStackSize   = 1 * 1024 * 1024
)

// UserPML4Boundary is the first PML4 index reserved for a process's own,
// private address-space structures; every index below it is always the
// shared kernel range, copied into every fresh address space's PML4 and
// never rebuilt per-process. Index 511 is never handed to either half: it
// is the recursive self-mapping slot every PML4 needs for vmm's page-table
// walk to work.
//
// A conventional higher-half kernel would instead put the kernel in the
// indices above this boundary and let user mappings start at 0; this
// kernel boots identity-mapped (see vmm.Init) rather than relocating itself
// to a higher-half VMA, so the shared/private split is kept but the
// boundary direction is flipped. See DESIGN.md for the full rationale.
const UserPML4Boundary = 256

// UserStackTop is the highest address of the user half of the address
// space; stacks grow down from just below it, leaving a guard page above
// the highest mapped VMO.
const UserStackTop = 0x0000_7fff_ffff_f000

// MmapBase is the first address mmap() hands out in any process's address
// space; each call advances a per-process bump pointer from here. There is
// no free-region tracking to reclaim a munmap'd range, so the pointer never
// goes backwards — consistent with this kernel carrying no demand paging or
// copy-on-write elsewhere. It sits well above any ET_EXEC binary's PT_LOAD
// segments and well below UserStackTop, so neither can collide with it.
const MmapBase = 0x0000_4000_0000_0000

// HeapSize is the size of the region reserved from the KERNEL zone for the
// free-list kernel heap (spec §4.2).
const HeapSize = 64 * 1024 * 1024

// KernelZoneSize bounds how much of available physical memory the PMM
// carves off into the KERNEL zone (page-table frames, the heap backing
// store, process table, ramdisk staging). It must stay comfortably above
// HeapSize to leave room for the rest of the kernel's own frame use; the
// remainder of available memory forms the USER zone that process address
// spaces draw from.
const KernelZoneSize = HeapSize + 32*1024*1024

// RamdiskMagic identifies a well-formed embedded ramdisk superblock.
const RamdiskMagic = "RUTX"

// MaxOpenFiles bounds each process's fd table.
const MaxOpenFiles = 16

// MaxPathLen bounds a path argument the open()/spawn() syscalls will copy
// in from user memory, so a missing NUL terminator can never turn into an
// unbounded kernel-side scan.
const MaxPathLen = 256
