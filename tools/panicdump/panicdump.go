// Command panicdump decodes a binary panic record in the layout below and
// disassembles the instruction bytes it carries from the faulting RIP, so a
// developer can see the actual opcode that crashed without attaching a live
// debugger. The kernel itself does not emit such records: kernel.Panic only
// prints a text banner through early.Printf.
//
// A panic record is a single little-endian binary blob:
//
//	magic      u32 = "PANK"
//	module     [16]byte, NUL-padded
//	message    [128]byte, NUL-padded
//	rip        u64
//	codeBytes  u8, how many bytes of instructionBytes are valid (<= 16)
//	pad        [7]byte
//	instructionBytes [16]byte, raw bytes starting at rip
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"

	"golang.org/x/arch/x86/x86asm"
)

const panicRecordMagic = "PANK"

type panicRecord struct {
	Magic            [4]byte
	Module           [16]byte
	Message          [128]byte
	RIP              uint64
	CodeBytes        uint8
	_                [7]byte // padding to keep InstructionBytes 8-byte aligned
	InstructionBytes [16]byte
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[panicdump] error: %s\n", err.Error())
	os.Exit(1)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func decode(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var rec panicRecord
	if err := binary.Read(f, binary.LittleEndian, &rec); err != nil {
		return err
	}

	if string(rec.Magic[:]) != panicRecordMagic {
		return fmt.Errorf("not a panic record: magic is %q, want %q", rec.Magic[:], panicRecordMagic)
	}

	fmt.Printf("module:  %s\n", cString(rec.Module[:]))
	fmt.Printf("message: %s\n", cString(rec.Message[:]))
	fmt.Printf("rip:     0x%016x\n", rec.RIP)

	n := int(rec.CodeBytes)
	if n > len(rec.InstructionBytes) {
		n = len(rec.InstructionBytes)
	}
	code := rec.InstructionBytes[:n]

	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		fmt.Printf("instruction: <undecodable: %s> (raw bytes: % x)\n", err, code)
		return nil
	}

	fmt.Printf("instruction: %s\n", x86asm.GNUSyntax(inst, rec.RIP, nil))
	return nil
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		exit(errors.New("usage: panicdump <panic-record-file>"))
	}

	if err := decode(flag.Arg(0)); err != nil {
		exit(err)
	}
}
