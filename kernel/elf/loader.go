// Package elf loads a static ET_EXEC x86-64 binary out of the embedded
// ramdisk into a fresh process address space. It is the one place in the
// kernel that reasons about file-format bytes directly, so every check
// here exists because a hostile or merely malformed binary must never be
// able to make the loader read or write outside the bytes it was handed.
package elf

import (
	"bytes"
	"debug/elf"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/kfmt/early"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
)

var (
	errNotELF       = &kernel.Error{Module: "elf", Message: "not a valid ELF file"}
	errUnsupported  = &kernel.Error{Module: "elf", Message: "unsupported ELF class/machine/type"}
	errSegmentRange = &kernel.Error{Module: "elf", Message: "program header describes a range outside the file"}
	errBadEntry     = &kernel.Error{Module: "elf", Message: "entry point does not lie within any loaded segment"}
)

// Image describes a loaded, ready-to-run process image.
type Image struct {
	AddressSpace *vmm.AddressSpace
	Entry        uintptr
	StackTop     uintptr
}

// loadSegment is a local, fixed-field copy of the parts of a program header
// the loader needs. Every field is copied out of the elf package's own
// *elf.Prog before any allocation happens below, and the segments slice
// this file builds is sized exactly once, up front, and never grown —
// avoiding the shape of bug where indexing into a still-growing container
// after an intervening allocation hands back a stale or field-swapped
// struct.
type loadSegment struct {
	vaddr           uintptr
	fileOff, fileSz uint64
	memSz           uint64
	writable        bool
	executable      bool
}

// Load parses data as an ELF executable and builds a fresh address space
// containing every PT_LOAD segment plus a zeroed user stack. No formatted
// or heap-allocating log call runs between allocating a segment's VMO and
// mapping it: only the fixed-string early.Printf, with at most integer
// arguments, is used anywhere in this loop, since a verbose trace call
// deep in this path has previously been observed to overflow a small boot
// stack and corrupt the very segment data being loaded.
func Load(data []byte) (*Image, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errNotELF
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Type != elf.ET_EXEC {
		return nil, errUnsupported
	}

	loadCount := 0
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			loadCount++
		}
	}

	segments := make([]loadSegment, loadCount)
	i := 0
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if prog.Off+prog.Filesz > uint64(len(data)) {
			return nil, errSegmentRange
		}

		segments[i] = loadSegment{
			vaddr:      uintptr(prog.Vaddr),
			fileOff:    prog.Off,
			fileSz:     prog.Filesz,
			memSz:      prog.Memsz,
			writable:   prog.Flags&elf.PF_W != 0,
			executable: prog.Flags&elf.PF_X != 0,
		}
		i++
	}

	entryValid := false
	for _, seg := range segments {
		if uintptr(f.Entry) >= seg.vaddr && uintptr(f.Entry) < seg.vaddr+uintptr(seg.memSz) {
			entryValid = true
			break
		}
	}
	if !entryValid {
		return nil, errBadEntry
	}

	as, kerr := vmm.NewAddressSpace()
	if kerr != nil {
		return nil, kerr
	}

	for _, seg := range segments {
		early.Printf("[elf] loading segment at 0x%16x, size %d\n", seg.vaddr, seg.memSz)

		vmo, kerr := vmm.NewVMO(mem.Size(seg.memSz), pmm.ZoneUser)
		if kerr != nil {
			return nil, kerr
		}

		if kerr := vmo.WriteAt(0, data[seg.fileOff:seg.fileOff+seg.fileSz]); kerr != nil {
			return nil, kerr
		}
		if seg.memSz > seg.fileSz {
			if kerr := vmo.ZeroRange(mem.Size(seg.fileSz), mem.Size(seg.memSz-seg.fileSz)); kerr != nil {
				return nil, kerr
			}
		}

		flags := vmm.FlagUserAccessible
		if seg.writable {
			flags |= vmm.FlagRW
		}
		if !seg.executable {
			flags |= vmm.FlagNoExecute
		}

		if kerr := vmo.MapInto(as, seg.vaddr, flags); kerr != nil {
			return nil, kerr
		}
	}

	stackVMO, kerr := vmm.NewVMO(mem.Size(kconfig.UserStackSize), pmm.ZoneUser)
	if kerr != nil {
		return nil, kerr
	}
	if kerr := stackVMO.ZeroRange(0, stackVMO.Size()); kerr != nil {
		return nil, kerr
	}

	stackBase := uintptr(kconfig.UserStackTop) - uintptr(kconfig.UserStackSize)
	if kerr := stackVMO.MapInto(as, stackBase, vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); kerr != nil {
		return nil, kerr
	}

	return &Image{
		AddressSpace: as,
		Entry:        uintptr(f.Entry),
		StackTop:     uintptr(kconfig.UserStackTop),
	}, nil
}
