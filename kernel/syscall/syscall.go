// Package syscall is the dispatch table behind INT 0x80 (spec.md section
// 4.8 and the syscall ABI in section 6): it copies arguments out of the
// trapped register frame, validates every user pointer and file descriptor
// before touching it, calls the right subsystem, and writes the result (or
// a negative errno.Code) back into RAX before the gate's IRETQ returns to
// user mode.
package syscall

import (
	"github.com/gitrustux/rustica/kernel/errno"
	"github.com/gitrustux/rustica/kernel/fd"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
	"github.com/gitrustux/rustica/kernel/proc"
)

// Number identifies one syscall; numbering is implementation-defined but
// stable within a build, per spec.md section 4.8.
type Number uint64

const (
	SysExit Number = iota
	SysWrite
	SysRead
	SysOpen
	SysClose
	SysLseek
	SysMmap
	SysMunmap
	SysGetpid
	SysGetppid
	SysYield
	SysSpawn
	SysWait
)

// Init registers the syscall gate handler. Must run after proc and gate are
// both initialized.
func Init() {
	gate.HandleInterrupt(gate.SyscallVector, 0, dispatch)
}

// dispatch is the single entry point every INT 0x80 trap reaches. Per the
// ABI: RAX holds the syscall number on entry and the return value on exit;
// arguments arrive in RBX, RCX, RDX, RSI, RDI, R8 in that order.
func dispatch(regs *gate.Registers) {
	num := Number(regs.RAX)
	a0, a1, a2 := regs.RBX, regs.RCX, regs.RDX

	var ret int64

	switch num {
	case SysExit:
		proc.Exit(regs, int(a0))
		// Exit reschedules in place; regs now holds the next
		// process's frame, so there is no return value to write.
		return
	case SysWrite:
		ret = int64(sysWrite(int(a0), a1, a2))
	case SysRead:
		code, blocked := sysRead(regs, int(a0), a1, a2)
		if blocked {
			// regs now holds a different process's frame; the
			// blocked process retries read() from scratch on
			// wakeup, so nothing more is written here.
			return
		}
		ret = int64(code)
	case SysOpen:
		ret = int64(sysOpen(a0, a1, a2))
	case SysClose:
		ret = int64(sysClose(int(a0)))
	case SysLseek:
		ret = int64(sysLseek(int(a0), int64(a1), int(a2)))
	case SysMmap:
		ret = int64(sysMmap(a0, a1, a2))
	case SysMunmap:
		ret = int64(sysMunmap(a0, a1))
	case SysGetpid:
		ret = int64(proc.Current())
	case SysGetppid:
		ret = int64(sysGetppid())
	case SysYield:
		proc.Yield(regs)
		ret = 0
	case SysSpawn:
		ret = int64(sysSpawn(a0, a1))
	case SysWait:
		code, blocked := sysWait(regs, a0, a1)
		if blocked {
			return
		}
		ret = int64(code)
	default:
		ret = int64(errno.ENOSYS)
	}

	regs.RAX = uint64(ret)
}

// currentFDTable returns the calling process's descriptor table.
func currentFDTable() *fd.Table {
	return proc.Get(proc.Current()).FDTable
}

// validateUserBuffer confirms that [addr, addr+length) lies entirely
// within a single mapped VMO belonging to the caller's address space, with
// the requested permission, and does not overflow when added to its base.
// It is the single chokepoint every syscall that touches user memory goes
// through, per spec.md section 4.6's validation rules: "the syscall never
// reaches into unchecked memory."
func validateUserBuffer(addr, length uint64, needWrite bool) ([]byte, errno.Code) {
	if length == 0 {
		return nil, errno.OK
	}
	if addr+length < addr {
		return nil, errno.EINVAL
	}

	p := proc.Get(proc.Current())
	for _, seg := range p.AddressSpace.Segments() {
		segEnd := uint64(seg.VAddrBase) + uint64(seg.VMO.Size())
		if uint64(addr) < uint64(seg.VAddrBase) || addr+length > segEnd {
			continue
		}
		if needWrite && seg.Flags&vmm.FlagRW == 0 {
			return nil, errno.EFAULT
		}
		return unsafeUserSlice(uintptr(addr), int(length)), errno.OK
	}

	return nil, errno.EFAULT
}
