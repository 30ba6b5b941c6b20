package gate

import (
	"github.com/gitrustux/rustica/kernel/kconfig"
	"unsafe"
)

// idtGate is the 16-byte x86_64 interrupt gate descriptor layout.
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	istAndRes  uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// idtTypeInterruptGate32 (0xE) with present bit (0x80) and ring-0 DPL.
// A few gates (the syscall vector) additionally set DPL=3 so a ring-3
// INT 0x80 is allowed to reach them.
const (
	gateTypeInterrupt  = 0x8e
	gateTypeInterruptR3 = 0xee
)

var idt [256]idtGate

// idtDescriptor is the operand LIDT loads: a 10-byte {limit uint16, base uint64}.
var idtDescriptor struct {
	limit uint16
	base  uint64
}

// stubTableFor returns the entry point for vector, or 0 if this package has
// no generated stub for it (see gate_amd64.s for the set of vectors with a
// stub). interruptGateEntries returns the address of a table of pointers
// (one 8-byte slot per supported vector, in stubIndex order), not inline
// code, so a vector's entry point is one more pointer dereference away.
func stubTableFor(vector uint8) uintptr {
	if !stubExists(vector) {
		return 0
	}

	base := interruptGateEntries()
	slot := (*uintptr)(unsafe.Pointer(base + uintptr(stubIndex(vector))*unsafe.Sizeof(uintptr(0))))
	return *slot
}

func stubExists(vector uint8) bool {
	return stubIndex(vector) >= 0
}

// stubIndex maps a vector number to its position in the generated stub
// table (exceptions 0-19, IRQs 0x20-0x2f, syscall 0x80), or -1.
func stubIndex(vector uint8) int {
	switch {
	case vector < 20:
		return int(vector)
	case vector >= 0x20 && vector < 0x30:
		return 20 + int(vector-0x20)
	case vector == 0x80:
		return 20 + 16
	default:
		return -1
	}
}

func buildGate(offset uintptr, selector uint16, typeAttr uint8, ist uint8) idtGate {
	return idtGate{
		offsetLow:  uint16(offset),
		selector:   selector,
		istAndRes:  ist & 0x7,
		typeAttr:   typeAttr,
		offsetMid:  uint16(offset >> 16),
		offsetHigh: uint32(offset >> 32),
	}
}

// installIDT fills every gate this package has a stub for, loads IDTR and
// re-enables the gates with LIDT (implemented in gate_amd64.s).
func installIDT() {
	for v := 0; v < 256; v++ {
		offset := stubTableFor(uint8(v))
		if offset == 0 {
			continue
		}

		typeAttr := uint8(gateTypeInterrupt)
		if v == int(SyscallVector) {
			typeAttr = gateTypeInterruptR3
		}

		idt[v] = buildGate(offset, kconfig.SelectorKernelCode, typeAttr, 0)
	}

	idtDescriptor.limit = uint16(len(idt)*16 - 1)
	idtDescriptor.base = uint64(uintptr(unsafe.Pointer(&idt[0])))

	lidt(uintptr(unsafe.Pointer(&idtDescriptor)))
}

func setGateIST(vector uint8, istOffset uint8) {
	if !stubExists(vector) {
		return
	}
	idt[vector].istAndRes = istOffset & 0x7
}

// lidt loads the IDT descriptor pointed to by descAddr. Implemented in
// gate_amd64.s.
func lidt(descAddr uintptr)
