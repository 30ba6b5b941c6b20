package syscall

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel/errno"
	"github.com/gitrustux/rustica/kernel/fd"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
	"github.com/gitrustux/rustica/kernel/proc"
	"github.com/gitrustux/rustica/kernel/vfs"
)

// unsafeUserSlice builds a []byte view over addr/length without copying.
// Only called once validateUserBuffer has already confirmed the range lies
// entirely within a mapped, appropriately-permissioned segment of the
// caller's address space.
func unsafeUserSlice(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

// sysWrite implements write(fd, buf, len) (spec.md section 4.8).
func sysWrite(slot int, bufAddr, length uint64) errno.Code {
	buf, verr := validateUserBuffer(bufAddr, length, false)
	if verr != errno.OK {
		return verr
	}

	n, werr := vfs.Write(currentFDTable(), slot, buf)
	if werr != errno.OK {
		return werr
	}
	return errno.Code(n)
}

// sysRead implements read(fd, buf, len). Reading from stdin with nothing
// buffered blocks the caller (spec 4.8: "for stdin, blocks until at least
// one byte is available"); since a blocked process only ever resumes by
// re-trapping into the syscall gate (see proc.block), blocked reports
// true and the caller must return to user mode without touching RAX —
// the retry, once woken, re-enters sysRead from scratch.
func sysRead(regs *gate.Registers, slot int, bufAddr, length uint64) (code errno.Code, blocked bool) {
	buf, verr := validateUserBuffer(bufAddr, length, true)
	if verr != errno.OK {
		return verr, false
	}

	d, derr := currentFDTable().Get(slot)
	if derr != nil {
		return errno.EBADF, false
	}

	if d.Kind() == fd.KindStdin && length > 0 && !vfs.StdinReady() {
		proc.Block(regs, proc.BlockedOnStdin)
		return 0, true
	}

	n, rerr := vfs.Read(currentFDTable(), slot, buf)
	if rerr != errno.OK {
		return rerr, false
	}
	return errno.Code(n), false
}

// copyUserPath copies a NUL-terminated path string out of user memory,
// capped at kconfig.MaxPathLen so a missing terminator can't run unbounded.
func copyUserPath(addr uint64) (string, errno.Code) {
	raw, verr := validateUserBuffer(addr, kconfig.MaxPathLen, false)
	if verr != errno.OK {
		return "", verr
	}

	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), errno.OK
		}
	}
	return "", errno.EINVAL
}

// sysOpen implements open(path, flags). writable is flags&1 != 0; every
// other flag bit is ignored, matching the minimal open() surface spec.md
// section 4.8 describes.
func sysOpen(pathAddr, flags, _ uint64) errno.Code {
	path, verr := copyUserPath(pathAddr)
	if verr != errno.OK {
		return verr
	}

	slot, oerr := vfs.Open(currentFDTable(), path, flags&1 != 0)
	if oerr != errno.OK {
		return oerr
	}
	return errno.Code(slot)
}

// sysClose implements close(fd).
func sysClose(slot int) errno.Code {
	return vfs.Close(currentFDTable(), slot)
}

// sysLseek implements lseek(fd, offset, whence).
func sysLseek(slot int, offset int64, whence int) errno.Code {
	if whence < 0 || whence > int(fd.SeekEnd) {
		return errno.EINVAL
	}

	off, serr := vfs.Seek(currentFDTable(), slot, offset, fd.Whence(whence))
	if serr != errno.OK {
		return serr
	}
	return errno.Code(off)
}

// Protection bits for mmap's prot argument, numbered the same way POSIX's
// PROT_READ/PROT_WRITE/PROT_EXEC are. Every mapping is readable by
// construction (there's no way to install a page-table entry that isn't),
// so protRead carries no bit of its own.
const (
	protWrite = 1 << 1
	protExec  = 1 << 2
)

// sysMmap implements mmap(length, prot, _) -> base address. There is no
// address hint, no file-backing, and no notion of anonymous vs. fixed
// mappings: every call allocates a fresh VMO from the USER zone and maps it
// at the caller's next free mmap address, advancing that process's bump
// pointer (kconfig.MmapBase) by the mapped size. A munmap'd range is never
// reused by a later mmap.
func sysMmap(length, prot, _ uint64) errno.Code {
	if length == 0 {
		return errno.EINVAL
	}

	p := proc.Get(proc.Current())

	vmo, verr := vmm.NewVMO(mem.Size(length), pmm.ZoneUser)
	if verr != nil {
		return errno.ENOMEM
	}
	if zerr := vmo.ZeroRange(0, vmo.Size()); zerr != nil {
		return errno.ENOMEM
	}

	flags := vmm.PageTableEntryFlag(0)
	if prot&protWrite != 0 {
		flags |= vmm.FlagRW
	}
	if prot&protExec == 0 {
		flags |= vmm.FlagNoExecute
	}

	base := p.NextMmapAddr
	if merr := vmo.MapInto(p.AddressSpace, base, flags); merr != nil {
		return errno.ENOMEM
	}
	p.NextMmapAddr += uintptr(vmo.Size())

	return errno.Code(base)
}

// sysMunmap implements munmap(addr, length), the exact inverse of an
// earlier mmap: addr and length must match a segment's VAddrBase/VMO.Size
// precisely (there's no partial unmap or segment splitting). It tears down
// every page-table entry the segment owns and returns its frames to the
// USER zone.
func sysMunmap(addr, length uint64) errno.Code {
	p := proc.Get(proc.Current())

	for i, seg := range p.AddressSpace.Segments() {
		if uint64(seg.VAddrBase) != addr || uint64(seg.VMO.Size()) != length {
			continue
		}

		pageCount := seg.VMO.Size().Pages()
		page := vmm.PageFromAddress(seg.VAddrBase)
		for n := uint32(0); n < pageCount; n, page = n+1, page+1 {
			if uerr := vmm.Unmap(page); uerr != nil {
				return errno.EINVAL
			}
		}

		seg.VMO.Release()
		p.AddressSpace.RemoveSegment(i)
		return errno.OK
	}

	return errno.EINVAL
}

// sysGetppid implements getppid().
func sysGetppid() proc.PID {
	p := proc.Get(proc.Current())
	return p.PPID
}

// sysSpawn implements spawn(path) -> pid. The second argument is reserved
// (always 0) since this kernel's spawn has no flags.
func sysSpawn(pathAddr, _ uint64) errno.Code {
	path, verr := copyUserPath(pathAddr)
	if verr != errno.OK {
		return verr
	}

	pid, err := proc.Spawn(path, proc.Current())
	if err != nil {
		if err == proc.ErrProcessTableFull {
			return errno.EAGAIN
		}
		return errno.ENOMEM
	}
	return errno.Code(pid)
}

// sysWait implements wait(pid) -> exit status, blocking until the named
// child (or, if pid is 0, any child) becomes a zombie. See sysRead for why
// a blocked wait() must not write a result: the retry re-enters sysWait
// from scratch once the caller is woken.
func sysWait(regs *gate.Registers, pidArg, statusAddr uint64) (code errno.Code, blocked bool) {
	childPID, status, werr, waiting := proc.Wait(regs, proc.PID(pidArg))
	if waiting {
		return 0, true
	}
	if werr != errno.OK {
		return werr, false
	}

	if statusAddr != 0 {
		buf, verr := validateUserBuffer(statusAddr, 8, true)
		if verr == errno.OK {
			*(*int64)(unsafe.Pointer(&buf[0])) = int64(status)
		}
	}

	return errno.Code(childPID), false
}
