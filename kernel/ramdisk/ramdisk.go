// Package ramdisk reads the compile-time-embedded, read-only file archive a
// build step bakes into the kernel image: the only source of userspace
// binaries (init, the shell, and anything they spawn) this kernel has, since
// there is no block device driver and no writable filesystem.
//
// Layout (all integers little-endian, matching the target's native order):
//
//	superblock   { magic: u32 = "RUTX", file_count: u32, file_table_offset: u32 }
//	file_entries[file_count] { name_offset: u32, data_offset: u32, size: u32, pad: u32 }
//	name_pool    (null-terminated ASCII, referenced by name_offset)
//	data_pool    (raw file bytes, referenced by data_offset)
package ramdisk

import (
	"unsafe"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/kconfig"
)

var (
	errBadMagic  = &kernel.Error{Module: "ramdisk", Message: "superblock magic does not match RUTX"}
	errNoEnt     = &kernel.Error{Module: "ramdisk", Message: "no such file"}
	errTruncated = &kernel.Error{Module: "ramdisk", Message: "file table entry describes a range outside the image"}
)

// superblock mirrors the on-disk header exactly; field order and width
// matter, so this struct is never reordered or given extra fields.
type superblock struct {
	magic           uint32
	fileCount       uint32
	fileTableOffset uint32
}

// fileEntry mirrors one on-disk file_entries slot.
type fileEntry struct {
	nameOffset uint32
	dataOffset uint32
	size       uint32
	pad        uint32
}

// ramdiskMagic is kconfig.RamdiskMagic's four ASCII bytes packed into a
// little-endian u32, matching how the build-time mkramdisk tool writes the
// superblock's magic field.
var ramdiskMagic = uint32(kconfig.RamdiskMagic[0]) |
	uint32(kconfig.RamdiskMagic[1])<<8 |
	uint32(kconfig.RamdiskMagic[2])<<16 |
	uint32(kconfig.RamdiskMagic[3])<<24

// File describes one entry looked up from the archive. Data aliases the
// kernel image's embedded bytes directly; it is never copied on lookup,
// only into the caller's buffer on read (see kernel/fd), since the archive is read-only for the
// lifetime of the kernel.
type File struct {
	Name string
	Data []byte
}

// Archive is a parsed, ready-to-query view over an embedded ramdisk image.
// The file bytes point directly into the backing blob; the files slice and
// the name strings, which are copied out of the blob at Open, are its only
// allocations.
type Archive struct {
	blob  []byte
	files []File
}

// Open parses blob as a ramdisk image. blob must outlive the returned
// Archive; Open does not copy it.
func Open(blob []byte) (*Archive, *kernel.Error) {
	if len(blob) < int(unsafe.Sizeof(superblock{})) {
		return nil, errTruncated
	}

	sb := (*superblock)(unsafe.Pointer(&blob[0]))
	if sb.magic != ramdiskMagic {
		return nil, errBadMagic
	}

	entrySize := uint32(unsafe.Sizeof(fileEntry{}))
	tableEnd := sb.fileTableOffset + sb.fileCount*entrySize
	if tableEnd > uint32(len(blob)) || sb.fileTableOffset > tableEnd {
		return nil, errTruncated
	}

	files := make([]File, sb.fileCount)
	for i := uint32(0); i < sb.fileCount; i++ {
		entryAddr := uintptr(unsafe.Pointer(&blob[0])) + uintptr(sb.fileTableOffset+i*entrySize)
		entry := (*fileEntry)(unsafe.Pointer(entryAddr))

		if uint64(entry.dataOffset)+uint64(entry.size) > uint64(len(blob)) {
			return nil, errTruncated
		}

		name, err := readCString(blob, entry.nameOffset)
		if err != nil {
			return nil, err
		}

		files[i] = File{
			Name: name,
			Data: blob[entry.dataOffset : entry.dataOffset+entry.size],
		}
	}

	return &Archive{blob: blob, files: files}, nil
}

// readCString scans blob for a NUL terminator starting at offset, without
// ever reading past the end of blob.
func readCString(blob []byte, offset uint32) (string, *kernel.Error) {
	if uint64(offset) >= uint64(len(blob)) {
		return "", errTruncated
	}

	end := offset
	for end < uint32(len(blob)) && blob[end] != 0 {
		end++
	}
	if end == uint32(len(blob)) {
		return "", errTruncated
	}

	return string(blob[offset:end]), nil
}

// Lookup finds the file named path. Lookup is linear over the archive's
// file_count, which is small and fixed at build time (spec invariant).
func (a *Archive) Lookup(path string) (*File, *kernel.Error) {
	for i := range a.files {
		if a.files[i].Name == path {
			return &a.files[i], nil
		}
	}
	return nil, errNoEnt
}

// FileCount reports how many files the archive contains.
func (a *Archive) FileCount() int {
	return len(a.files)
}
