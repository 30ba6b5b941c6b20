// Command mkramdisk packs a directory of files into the flat archive image
// kernel/ramdisk parses at boot: a superblock, a fixed-size file table, a
// NUL-terminated name pool, and a data pool, all integers little-endian
// (see kernel/ramdisk/ramdisk.go for the exact on-disk layout this mirrors).
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const ramdiskMagic = "RUTX"

// maxNameLen is the longest entry name mkramdisk accepts; a longer name is
// rejected here. The kernel's archive reader itself has no name length limit.
const maxNameLen = 64

type fileEntry struct {
	nameOffset uint32
	dataOffset uint32
	size       uint32
	pad        uint32
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkramdisk] error: %s\n", err.Error())
	os.Exit(1)
}

// asciiFold folds name to NFC and strips every rune outside printable ASCII,
// so a filesystem that hands back UTF-8 names (anything NFD-normalized, or
// carrying characters the kernel's ramdisk reader has no business decoding)
// still produces the short ASCII names spec.md requires.
func asciiFold(name string) (string, error) {
	t := transform.Chain(norm.NFC, runes.Remove(runes.NotIn(asciiPrintable)))
	out, _, err := transform.String(t, name)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("%q: no ASCII-printable characters survive folding", name)
	}
	if len(out) > maxNameLen {
		return "", fmt.Errorf("%q: folded name %q exceeds %d bytes", name, out, maxNameLen)
	}
	return out, nil
}

// asciiPrintableTable covers the printable ASCII range (space through ~);
// runes.In/NotIn key off *unicode.RangeTable the same way unicode.Is does.
var asciiPrintableTable = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x20, Hi: 0x7e, Stride: 1}},
}

var asciiPrintable = runes.In(asciiPrintableTable)

func collectFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

func build(root, outPath string) error {
	paths, err := collectFiles(root)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no files found under " + root)
	}

	type packedFile struct {
		name string
		data []byte
	}

	packed := make([]packedFile, len(paths))
	for i, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name, err := asciiFold(rel)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		packed[i] = packedFile{name: name, data: data}
	}

	const (
		superblockSize = 4 + 4 + 4
		entrySize      = 4 + 4 + 4 + 4
	)

	fileTableOffset := uint32(superblockSize)
	namePoolOffset := fileTableOffset + uint32(len(packed))*entrySize

	var namePool, dataPool []byte
	entries := make([]fileEntry, len(packed))
	for i, f := range packed {
		entries[i].nameOffset = namePoolOffset + uint32(len(namePool))
		namePool = append(namePool, append([]byte(f.name), 0)...)
		entries[i].size = uint32(len(f.data))
	}

	dataPoolOffset := namePoolOffset + uint32(len(namePool))
	for i, f := range packed {
		entries[i].dataOffset = dataPoolOffset + uint32(len(dataPool))
		dataPool = append(dataPool, f.data...)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)

	write := func(v interface{}) error { return binary.Write(w, binary.LittleEndian, v) }

	if err := write(binary.LittleEndian.Uint32([]byte(ramdiskMagic))); err != nil {
		return err
	}
	if err := write(uint32(len(packed))); err != nil {
		return err
	}
	if err := write(fileTableOffset); err != nil {
		return err
	}
	for _, e := range entries {
		if err := write(e); err != nil {
			return err
		}
	}
	if _, err := w.Write(namePool); err != nil {
		return err
	}
	if _, err := w.Write(dataPool); err != nil {
		return err
	}

	return w.Flush()
}

func main() {
	var (
		root = flag.String("root", "", "directory whose contents become the ramdisk archive")
		out  = flag.String("out", "image.bin", "output archive path")
	)
	flag.Parse()

	if *root == "" {
		exit(errors.New("missing -root"))
	}
	if err := build(*root, *out); err != nil {
		exit(err)
	}
}
