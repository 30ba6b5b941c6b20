package vfs

import (
	"bytes"
	"testing"

	"github.com/gitrustux/rustica/kernel/errno"
	"github.com/gitrustux/rustica/kernel/fd"
	"github.com/gitrustux/rustica/kernel/kfmt"
	"github.com/gitrustux/rustica/kernel/ramdisk"
)

func testArchive(t *testing.T) *ramdisk.Archive {
	t.Helper()
	// 12-byte superblock, 0 files: same empty-archive layout as
	// kernel/ramdisk's checked-in placeholder image.
	blob := []byte{'R', 'U', 'T', 'X', 0, 0, 0, 0, 12, 0, 0, 0}
	a, err := ramdisk.Open(blob)
	if err != nil {
		t.Fatalf("ramdisk.Open: %v", err)
	}
	return a
}

func TestOpenMissingPathReturnsENOENT(t *testing.T) {
	SetArchive(testArchive(t))
	table := fd.NewTable()

	if _, code := Open(table, "/no/such/file", false); code != errno.ENOENT {
		t.Fatalf("expected ENOENT; got %v", code)
	}
}

func TestWriteStdoutGoesToOutputSink(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	table := fd.NewTable()

	n, code := Write(table, 1, []byte("hello"))
	if code != errno.OK {
		t.Fatalf("Write(stdout): %v", code)
	}
	if n != 5 || buf.String() != "hello" {
		t.Fatalf("expected \"hello\" written to the sink; got %q (n=%d)", buf.String(), n)
	}
}

func TestWriteStdinIsRejected(t *testing.T) {
	table := fd.NewTable()
	if _, code := Write(table, 0, []byte("x")); code != errno.EINVAL {
		t.Fatalf("expected EINVAL writing to stdin; got %v", code)
	}
}

func TestReadStdoutIsRejected(t *testing.T) {
	table := fd.NewTable()
	if _, code := Read(table, 1, make([]byte, 4)); code != errno.EINVAL {
		t.Fatalf("expected EINVAL reading from stdout; got %v", code)
	}
}

func TestReadWriteBadSlotReturnsEBADF(t *testing.T) {
	table := fd.NewTable()
	if _, code := Read(table, 9, make([]byte, 1)); code != errno.EBADF {
		t.Fatalf("expected EBADF reading an unused slot; got %v", code)
	}
	if _, code := Write(table, 9, []byte("x")); code != errno.EBADF {
		t.Fatalf("expected EBADF writing an unused slot; got %v", code)
	}
	if code := Close(table, 9); code != errno.EBADF {
		t.Fatalf("expected EBADF closing an unused slot; got %v", code)
	}
}

func TestRamdiskFileWriteAlwaysFailsReadOnly(t *testing.T) {
	f := &ramdisk.File{Name: "/a", Data: []byte("data")}
	table := fd.NewTable()
	slot, err := table.OpenRamdiskFile(f, true)
	if err != nil {
		t.Fatalf("OpenRamdiskFile: %v", err)
	}

	if _, code := Write(table, slot, []byte("x")); code != errno.EROFS {
		t.Fatalf("expected EROFS writing a ramdisk file even when opened writable; got %v", code)
	}
}

func TestSeekDispatchesToDescriptor(t *testing.T) {
	f := &ramdisk.File{Name: "/a", Data: []byte("0123456789")}
	table := fd.NewTable()
	slot, err := table.OpenRamdiskFile(f, false)
	if err != nil {
		t.Fatalf("OpenRamdiskFile: %v", err)
	}

	pos, code := Seek(table, slot, 3, fd.SeekSet)
	if code != errno.OK || pos != 3 {
		t.Fatalf("expected Seek to position 3; got pos=%d code=%v", pos, code)
	}

	n, code := Read(table, slot, make([]byte, 100))
	if code != errno.OK || n != 7 {
		t.Fatalf("expected to read the remaining 7 bytes after Seek; got n=%d code=%v", n, code)
	}
}

func TestStdinReadyReflectsQueueState(t *testing.T) {
	if StdinReady() {
		t.Fatal("expected an empty keyboard queue to report not ready")
	}
}
