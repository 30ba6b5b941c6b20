// Package fd implements the per-process file descriptor table: the bounded
// mapping from small integers to one of a fixed set of FdKinds (spec.md
// section 3's File Descriptor entity). There are no directories, no device
// files beyond the console, and no pipes in this kernel, so the kind
// enumeration is closed and every operation on it is a direct switch, not an
// open-ended dispatch table.
package fd

import (
	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/errno"
	"github.com/gitrustux/rustica/kernel/kconfig"
	"github.com/gitrustux/rustica/kernel/ramdisk"
)

var (
	errBadFd  = &kernel.Error{Module: "fd", Message: "descriptor does not index a live slot"}
	errNoSlot = &kernel.Error{Module: "fd", Message: "no free descriptor slot"}
)

// Kind identifies what a descriptor is backed by.
type Kind uint8

const (
	KindStdin Kind = iota
	KindStdout
	KindStderr
	KindRamdiskFile
	// KindPipe is reserved; this kernel never constructs one (spec
	// Non-goal: pipes). It exists only so Kind's zero value (KindStdin)
	// is never confused with "unused slot" — see Table.slots below.
	KindPipe
)

// Whence selects the reference point for Seek, mirroring lseek(2)'s
// SEEK_SET/SEEK_CUR/SEEK_END without importing that enumeration.
type Whence uint8

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// Descriptor is one open file in a process's table. RamdiskFile is the only
// kind that carries a cursor; the others are stateless beyond their kind.
type Descriptor struct {
	kind   Kind
	inUse  bool
	file   *ramdisk.File
	cursor uint64
	// writable records whether this descriptor was opened with a write
	// flag; RamdiskFile accepts the flag (spec 4.8: "write flags on an
	// existing RamdiskFile are accepted") but every write still fails,
	// since the backing archive is read-only.
	writable bool
}

// Table is a process's bounded fd_table, indexed by small integer.
type Table struct {
	slots [kconfig.MaxOpenFiles]Descriptor
}

// NewTable builds a fresh table with stdin=0, stdout=1, stderr=2 bound to
// their respective devices, matching spawn step 6 in spec.md section 4.5.
func NewTable() *Table {
	t := &Table{}
	t.slots[0] = Descriptor{kind: KindStdin, inUse: true}
	t.slots[1] = Descriptor{kind: KindStdout, inUse: true}
	t.slots[2] = Descriptor{kind: KindStderr, inUse: true}
	return t
}

// OpenRamdiskFile installs f as a new RamdiskFile descriptor and returns its
// slot number. It returns errNoSlot when every slot past the first three
// reserved ones is already in use.
func (t *Table) OpenRamdiskFile(f *ramdisk.File, writable bool) (int, *kernel.Error) {
	for i := 3; i < len(t.slots); i++ {
		if !t.slots[i].inUse {
			t.slots[i] = Descriptor{kind: KindRamdiskFile, inUse: true, file: f, writable: writable}
			return i, nil
		}
	}
	return -1, errNoSlot
}

// Close releases a slot. Closing stdin/stdout/stderr is permitted and simply
// frees the slot the same as any other descriptor; nothing else in this
// kernel depends on fds 0-2 staying bound once a process chooses to close
// them.
func (t *Table) Close(slot int) *kernel.Error {
	d, err := t.lookup(slot)
	if err != nil {
		return err
	}
	*d = Descriptor{}
	return nil
}

// Get returns the descriptor at slot for read/write/seek dispatch.
func (t *Table) Get(slot int) (*Descriptor, *kernel.Error) {
	return t.lookup(slot)
}

func (t *Table) lookup(slot int) (*Descriptor, *kernel.Error) {
	if slot < 0 || slot >= len(t.slots) || !t.slots[slot].inUse {
		return nil, errBadFd
	}
	return &t.slots[slot], nil
}

// Kind reports d's kind.
func (d *Descriptor) Kind() Kind { return d.kind }

// Seek repositions a RamdiskFile's cursor per whence; any other kind returns
// EINVAL translated by the caller, since lseek only makes sense for a
// backing file.
func (d *Descriptor) Seek(offset int64, whence Whence) (uint64, errno.Code) {
	if d.kind != KindRamdiskFile {
		return 0, errno.EINVAL
	}

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(d.cursor)
	case SeekEnd:
		base = int64(len(d.file.Data))
	default:
		return 0, errno.EINVAL
	}

	newOff := base + offset
	if newOff < 0 || newOff > int64(len(d.file.Data)) {
		return 0, errno.EINVAL
	}

	d.cursor = uint64(newOff)
	return d.cursor, errno.OK
}

// ReadRamdisk copies up to len(buf) bytes from the cursor, advancing it, and
// reports how many bytes were copied. Only valid for KindRamdiskFile; the
// caller (kernel/vfs) is responsible for routing by kind first.
func (d *Descriptor) ReadRamdisk(buf []byte) int {
	remaining := d.file.Data[d.cursor:]
	n := copy(buf, remaining)
	d.cursor += uint64(n)
	return n
}

// Writable reports whether this descriptor accepts write(2) at the VFS
// layer; for RamdiskFile this is always false in effect (spec 4.7: writes
// always fail) regardless of the flag OpenRamdiskFile was called with, but
// the flag is preserved so future tooling (or a test) can distinguish "never
// asked to write" from "asked to write, was refused".
func (d *Descriptor) Writable() bool { return d.writable }
