// Command heapprofile turns a kernel heap free-list snapshot, dumped over
// the debug port by a diagnostic build (see kernel/mem/heap.Snapshot), into
// a pprof profile so `go tool pprof` can render kernel heap fragmentation:
// every free block becomes a sample under a "free" location, every
// allocated block a sample under "allocated", with the block size as the
// profile's value.
//
// Snapshot wire format, little-endian:
//
//	magic      u32 = "HEAP"
//	blockCount u32
//	blocks[blockCount] { size u32, allocated u8, pad [3]byte }
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/pprof/profile"
)

const snapshotMagic = "HEAP"

type blockRecord struct {
	Size      uint32
	Allocated uint8
	_         [3]byte
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[heapprofile] error: %s\n", err.Error())
	os.Exit(1)
}

func readSnapshot(path string) ([]blockRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if string(magic[:]) != snapshotMagic {
		return nil, fmt.Errorf("not a heap snapshot: magic is %q, want %q", magic[:], snapshotMagic)
	}

	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	blocks := make([]blockRecord, count)
	if err := binary.Read(f, binary.LittleEndian, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func buildProfile(blocks []blockRecord) *profile.Profile {
	freeLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: &profile.Function{ID: 1, Name: "free"}}}}
	allocLoc := &profile.Location{ID: 2, Line: []profile.Line{{Function: &profile.Function{ID: 2, Name: "allocated"}}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "bytes", Unit: "bytes"}},
		Function:   []*profile.Function{freeLoc.Line[0].Function, allocLoc.Line[0].Function},
		Location:   []*profile.Location{freeLoc, allocLoc},
	}

	for _, b := range blocks {
		loc := freeLoc
		if b.Allocated != 0 {
			loc = allocLoc
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(b.Size)},
		})
	}

	return p
}

func run(inPath, outPath string) error {
	blocks, err := readSnapshot(inPath)
	if err != nil {
		return err
	}

	p := buildProfile(blocks)
	if err := p.CheckValid(); err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	return p.Write(out)
}

func main() {
	var out = flag.String("out", "heap.pprof", "output pprof profile path")
	flag.Parse()

	if flag.NArg() != 1 {
		exit(errors.New("usage: heapprofile [-out heap.pprof] <snapshot-file>"))
	}

	if err := run(flag.Arg(0), *out); err != nil {
		exit(err)
	}
}
