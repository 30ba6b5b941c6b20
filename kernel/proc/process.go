// Package proc implements the process table, the round-robin scheduler,
// and the context switch (spec.md section 4.5). A Process bundles an
// address space, a kernel stack, a saved register frame, and a bounded file
// descriptor table; PID 0 is reserved for the kernel itself and is never
// handed out by spawn.
package proc

import (
	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/elf"
	"github.com/gitrustux/rustica/kernel/errno"
	"github.com/gitrustux/rustica/kernel/fd"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/gdt"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
	"github.com/gitrustux/rustica/kernel/mem/pmm/allocator"
	"github.com/gitrustux/rustica/kernel/mem/vmm"
	"github.com/gitrustux/rustica/kernel/ramdisk"
	"github.com/gitrustux/rustica/kernel/sync"
)

// State is a Process's place in its lifecycle (spec.md section 3).
type State uint8

const (
	Ready State = iota
	Running
	Blocked
	Zombie
	Dead
)

// BlockReason records why a Blocked process cannot run, so its wakeup
// source can find it again.
type BlockReason uint8

const (
	NotBlocked BlockReason = iota
	BlockedOnStdin
	BlockedOnChildExit
)

// PID is a process table index; PID 0 is reserved for the kernel and is
// never assigned to a spawned process.
type PID uint32

const invalidPID = PID(0)

// Process is one entry in the fixed-capacity process table.
type Process struct {
	PID  PID
	PPID PID

	State       State
	BlockReason BlockReason

	AddressSpace   *vmm.AddressSpace
	KernelStackTop uintptr
	UserStackTop   uintptr
	SavedRegs      gate.Registers

	// NextMmapAddr is the bump pointer mmap() advances on every call; see
	// kconfig.MmapBase.
	NextMmapAddr uintptr

	FDTable *fd.Table

	ExitStatus int

	inUse bool
}

var (
	// ErrProcessTableFull is returned by Spawn when allocPID finds no free
	// slot. It is exported (and returned by identity, never wrapped) so the
	// syscall layer can map this specific failure to errno.EAGAIN instead
	// of folding every Spawn error into ENOMEM.
	ErrProcessTableFull = &kernel.Error{Module: "proc", Message: "process table full"}

	table       [kconfig.MaxProcesses]Process
	readyQueue  []PID
	currentPID  PID
	archive     *ramdisk.Archive

	allocFrameFn = allocator.FrameAllocator.AllocFrame
	mapFn        = vmm.Map
)

// SetArchive installs the embedded ramdisk spawn() resolves paths against.
func SetArchive(a *ramdisk.Archive) {
	archive = a
}

// Current returns the PID of the Running process.
func Current() PID {
	return currentPID
}

// Get returns the process table entry for pid, or nil if pid does not name
// a live process.
func Get(pid PID) *Process {
	if pid == invalidPID || int(pid) >= len(table) || !table[pid].inUse {
		return nil
	}
	return &table[pid]
}

// allocKernelStack reserves and maps a fresh kernel stack of
// kconfig.KernelStackSize bytes from the KERNEL zone, returning the address
// of its top (the stack grows down from here, matching how the CPU loads
// RSP0 as a top-of-stack value).
func allocKernelStack() (uintptr, *kernel.Error) {
	size := mem.Size(kconfig.KernelStackSize)

	base, err := vmm.EarlyReserveRegion(size)
	if err != nil {
		return 0, err
	}

	pageCount := size.Pages()
	for i, page := uint32(0), vmm.PageFromAddress(base); i < pageCount; i, page = i+1, page+1 {
		frame, err := allocFrameFn(pmm.ZoneKernel)
		if err != nil {
			return 0, err
		}
		if err := mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return 0, err
		}
	}

	return base + uintptr(size), nil
}

// allocPID finds a free process table slot. PID 0 is never returned.
func allocPID() PID {
	for i := 1; i < len(table); i++ {
		if !table[i].inUse {
			return PID(i)
		}
	}
	return invalidPID
}

// Spawn implements spec.md section 4.5's process creation sequence: look up
// path in the ramdisk, build a fresh address space and load the ELF image
// into it, allocate a kernel stack, seed the saved-register frame so the
// first dispatch IRETQs into the entry point in user mode, and enqueue the
// new process Ready.
func Spawn(path string, ppid PID) (PID, *kernel.Error) {
	var newPID PID

	sync.Guard(func() {
		newPID = allocPID()
	})
	if newPID == invalidPID {
		return invalidPID, ErrProcessTableFull
	}

	file, err := archive.Lookup(path)
	if err != nil {
		return invalidPID, err
	}

	image, err := elf.Load(file.Data)
	if err != nil {
		return invalidPID, err
	}

	kstackTop, allocErr := allocKernelStack()
	if allocErr != nil {
		return invalidPID, allocErr
	}

	p := &table[newPID]
	*p = Process{
		PID:            newPID,
		PPID:           ppid,
		State:          Ready,
		AddressSpace:   image.AddressSpace,
		KernelStackTop: kstackTop,
		UserStackTop:   image.StackTop,
		NextMmapAddr:   kconfig.MmapBase,
		FDTable:        fd.NewTable(),
		inUse:          true,
	}
	p.SavedRegs = gate.Registers{
		RIP:    uint64(image.Entry),
		CS:     uint64(kconfig.SelectorUserCode),
		RFlags: 0x202, // IF set, reserved bit 1 set; no other flag is meaningful at entry.
		RSP:    uint64(image.StackTop),
		SS:     uint64(kconfig.SelectorUserData),
	}

	sync.Guard(func() {
		readyQueue = append(readyQueue, newPID)
	})

	return newPID, nil
}

// Exit moves the current process to Zombie, recording its exit status, and
// triggers a reschedule (spec.md section 4.8's exit() syscall). regs is the
// current trap frame, which Schedule overwrites in place with whichever
// process runs next.
func Exit(regs *gate.Registers, status int) {
	sync.Guard(func() {
		p := &table[currentPID]
		p.State = Zombie
		p.ExitStatus = status
		reparentChildren(currentPID)
		wakeParentIfWaiting(p.PPID)
	})
	Schedule(regs)
}

// wakeParentIfWaiting makes ppid Ready if it is Blocked waiting on a
// child's exit. Must be called with the scheduler's critical section
// already held.
func wakeParentIfWaiting(ppid PID) {
	if ppid == invalidPID || !table[ppid].inUse {
		return
	}
	if table[ppid].State == Blocked && table[ppid].BlockReason == BlockedOnChildExit {
		table[ppid].State = Ready
		table[ppid].BlockReason = NotBlocked
		readyQueue = append(readyQueue, ppid)
	}
}

// reparentChildren re-parents every child of pid to PID 1 (init), per the
// orphan policy spec.md section 9 recommends: init is expected to reap
// them. Must be called with the scheduler's critical section already held.
func reparentChildren(pid PID) {
	for i := range table {
		if table[i].inUse && table[i].PPID == pid {
			table[i].PPID = PID(1)
		}
	}
}

// Wait looks for a child matching childPID (or, if childPID is 0, any
// child) that has already become Zombie, reaps it, and returns its exit
// status. If a matching child exists but hasn't exited yet, it blocks the
// caller and reports blocked=true; the syscall layer must then return to
// user mode without writing a result, since the blocked process's saved
// RIP has been rewound to retry wait() in full once woken (see block).
// Returns ESRCH if childPID names no child of the caller at all.
func Wait(regs *gate.Registers, childPID PID) (pid PID, status int, code errno.Code, blocked bool) {
	var (
		foundPID    PID
		foundStatus int
		anyChild    bool
	)

	sync.Guard(func() {
		for i := range table {
			if !table[i].inUse || table[i].PPID != currentPID {
				continue
			}
			if childPID != invalidPID && PID(i) != childPID {
				continue
			}
			anyChild = true
			if table[i].State == Zombie {
				foundPID = PID(i)
				foundStatus = table[i].ExitStatus
			}
		}
	})

	if !anyChild {
		return invalidPID, 0, errno.ESRCH, false
	}
	if foundPID != invalidPID {
		sync.Guard(func() {
			table[foundPID] = Process{}
		})
		return foundPID, foundStatus, errno.OK, false
	}

	block(regs, BlockedOnChildExit)
	return invalidPID, 0, errno.OK, true
}

// syscallInstrBytes is the length of the `int 0x80` instruction that traps
// into the syscall gate. A process that blocks mid-syscall never resumes
// into a suspended Go call (the context switch only ever restores a saved
// register frame straight into user mode, see Schedule) — instead its
// saved RIP is rewound by this many bytes so the CPU re-executes the trap
// itself on wakeup, re-running the syscall from scratch against whatever
// state is current by then.
const syscallInstrBytes = 2

// block marks the current process Blocked for the given reason, rewinds
// its saved instruction pointer so the interrupted syscall retries in full
// on wakeup, and reschedules. The caller must treat this as a point of no
// return for the current trap: regs now holds a different process's frame
// and nothing further should be written to it.
func block(regs *gate.Registers, reason BlockReason) {
	regs.RIP -= syscallInstrBytes
	sync.Guard(func() {
		table[currentPID].State = Blocked
		table[currentPID].BlockReason = reason
	})
	Schedule(regs)
}

// Block is the exported entry point the read() syscall handler uses to
// suspend the caller until stdin has data.
func Block(regs *gate.Registers, reason BlockReason) {
	block(regs, reason)
}

// WakeBlockedOnStdin moves every process Blocked on stdin back to Ready.
// Installed as keyboard.SetWakeFn's callback.
func WakeBlockedOnStdin() {
	sync.Guard(func() {
		for i := range table {
			if table[i].inUse && table[i].State == Blocked && table[i].BlockReason == BlockedOnStdin {
				table[i].State = Ready
				table[i].BlockReason = NotBlocked
				readyQueue = append(readyQueue, PID(i))
			}
		}
	})
}
