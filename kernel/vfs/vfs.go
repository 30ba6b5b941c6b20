// Package vfs is the thin dispatch layer spec.md section 4.7 describes:
// given a process's fd.Table, route read/write/lseek by the target
// descriptor's fd.Kind. There are no directories, device files, symlinks,
// or a mount table — every kind this kernel knows about is enumerated in
// package fd, and this package's only job is picking the right few lines of
// behavior for each one.
package vfs

import (
	"github.com/gitrustux/rustica/kernel/errno"
	"github.com/gitrustux/rustica/kernel/fd"
	"github.com/gitrustux/rustica/kernel/keyboard"
	"github.com/gitrustux/rustica/kernel/kfmt"
	"github.com/gitrustux/rustica/kernel/ramdisk"
)

// Archive is the single embedded ramdisk every open() call resolves
// against; kmain sets it once at boot via SetArchive.
var archive *ramdisk.Archive

// SetArchive installs the kernel's embedded ramdisk. Called once from
// kmain before any process can open a file.
func SetArchive(a *ramdisk.Archive) {
	archive = a
}

// Open looks up path in the embedded ramdisk and installs a new
// RamdiskFile descriptor in table. flags carries the write-intent bit only
// (spec 4.8: write flags are accepted on open, but every subsequent write
// still fails).
func Open(table *fd.Table, path string, writable bool) (int, errno.Code) {
	f, err := archive.Lookup(path)
	if err != nil {
		return -1, errno.ENOENT
	}

	slot, err := table.OpenRamdiskFile(f, writable)
	if err != nil {
		return -1, errno.EAGAIN
	}
	return slot, errno.OK
}

// Close releases slot in table.
func Close(table *fd.Table, slot int) errno.Code {
	if err := table.Close(slot); err != nil {
		return errno.EBADF
	}
	return errno.OK
}

// Read dispatches by the descriptor's kind. Stdin blocking (spec 4.8: "for
// stdin, blocks until at least one byte is available") is implemented one
// layer up, in kernel/syscall's read handler, which calls proc.Block to
// put the calling process into state Blocked and invoke the scheduler; this function only does the non-blocking part once data (or
// the decision to fail) is known to be ready.
func Read(table *fd.Table, slot int, buf []byte) (int, errno.Code) {
	d, err := table.Get(slot)
	if err != nil {
		return -1, errno.EBADF
	}

	switch d.Kind() {
	case fd.KindStdin:
		n := keyboard.Read(buf)
		return n, errno.OK
	case fd.KindRamdiskFile:
		return d.ReadRamdisk(buf), errno.OK
	case fd.KindStdout, fd.KindStderr:
		return -1, errno.EINVAL
	default:
		return -1, errno.EBADF
	}
}

// Write dispatches by the descriptor's kind.
func Write(table *fd.Table, slot int, buf []byte) (int, errno.Code) {
	d, err := table.Get(slot)
	if err != nil {
		return -1, errno.EBADF
	}

	switch d.Kind() {
	case fd.KindStdout, fd.KindStderr:
		n, werr := kfmt.GetOutputSink().Write(buf)
		if werr != nil {
			return -1, errno.EIO
		}
		return n, errno.OK
	case fd.KindRamdiskFile:
		return -1, errno.EROFS
	case fd.KindStdin:
		return -1, errno.EINVAL
	default:
		return -1, errno.EBADF
	}
}

// Seek repositions a RamdiskFile descriptor's cursor.
func Seek(table *fd.Table, slot int, offset int64, whence fd.Whence) (uint64, errno.Code) {
	d, err := table.Get(slot)
	if err != nil {
		return 0, errno.EBADF
	}
	return d.Seek(offset, whence)
}

// StdinReady reports whether a blocking stdin read can be satisfied right
// now (spec's line-buffered-at-LF policy: "ready" means the cooked queue
// holds at least one byte, since the keyboard's IRQ path only wakes blocked
// readers once a full line has been enqueued).
func StdinReady() bool {
	return keyboard.Available() > 0
}
