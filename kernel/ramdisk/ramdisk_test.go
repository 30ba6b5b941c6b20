package ramdisk

import (
	"encoding/binary"
	"testing"
)

// buildImage assembles a minimal, valid ramdisk image in memory from a set
// of name/data pairs, mirroring exactly what tools/mkramdisk produces.
func buildImage(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	const sbSize = 12
	const entrySize = 16

	// nameOffset/dataOffset in the on-disk format are absolute offsets from
	// the start of the blob (Open indexes blob[entry.dataOffset:...] and
	// readCString(blob, entry.nameOffset) directly), not relative to their
	// own pools, so the pool offsets below are fixed up by tableEnd once
	// the name pool's total size is known.
	tableEnd := uint32(sbSize) + uint32(len(names))*entrySize

	var namePool, dataPool []byte
	nameRelOffs := make([]uint32, len(names))
	dataRelOffs := make([]uint32, len(names))

	for i, name := range names {
		nameRelOffs[i] = uint32(len(namePool))
		namePool = append(namePool, append([]byte(name), 0)...)

		dataRelOffs[i] = uint32(len(dataPool))
		dataPool = append(dataPool, files[name]...)
	}

	namePoolStart := tableEnd
	dataPoolStart := namePoolStart + uint32(len(namePool))

	entries := make([]byte, 0, len(names)*entrySize)
	for i, name := range names {
		entry := make([]byte, entrySize)
		binary.LittleEndian.PutUint32(entry[0:], namePoolStart+nameRelOffs[i])
		binary.LittleEndian.PutUint32(entry[4:], dataPoolStart+dataRelOffs[i])
		binary.LittleEndian.PutUint32(entry[8:], uint32(len(files[name])))
		entries = append(entries, entry...)
	}

	sb := make([]byte, sbSize)
	copy(sb[0:4], "RUTX")
	binary.LittleEndian.PutUint32(sb[4:8], uint32(len(names)))
	binary.LittleEndian.PutUint32(sb[8:12], sbSize)

	img := append(sb, entries...)
	img = append(img, namePool...)
	img = append(img, dataPool...)
	return img
}

func TestOpenAndLookup(t *testing.T) {
	files := map[string][]byte{
		"/bin/init": []byte("init binary contents"),
		"/bin/sh":   []byte("shell contents"),
	}

	img := buildImage(t, files)
	archive, err := Open(img)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if got := archive.FileCount(); got != len(files) {
		t.Fatalf("expected %d files; got %d", len(files), got)
	}

	for name, want := range files {
		f, err := archive.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if string(f.Data) != string(want) {
			t.Errorf("Lookup(%q): expected data %q; got %q", name, want, f.Data)
		}
	}

	if _, err := archive.Lookup("/no/such/file"); err == nil {
		t.Error("expected Lookup of a missing path to fail")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	img := buildImage(t, map[string][]byte{"/a": {1}})
	img[0] = 'X'

	if _, err := Open(img); err == nil {
		t.Error("expected Open to reject a corrupted magic")
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	if _, err := Open([]byte{1, 2, 3}); err == nil {
		t.Error("expected Open to reject a blob shorter than the superblock")
	}
}

func TestOpenEmptyArchive(t *testing.T) {
	archive, err := Open(Embedded())
	if err != nil {
		t.Fatalf("Open(Embedded()): %v", err)
	}
	if got := archive.FileCount(); got != 0 {
		t.Fatalf("expected the checked-in placeholder image to carry 0 files; got %d", got)
	}
}
