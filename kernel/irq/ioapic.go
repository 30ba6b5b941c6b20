package irq

import (
	"github.com/gitrustux/rustica/kernel/gate"
	"unsafe"
)

const (
	ioregsel = 0x00
	iowin    = 0x10

	ioapicRedTblBase = 0x10

	redirMasked = 1 << 16

	// Redirection table entry low-dword bits 13 (INTPOL) and 15 (trigger
	// mode): set to route an override's active-low/level-triggered line
	// correctly. Left clear, an entry is active-high/edge-triggered, the
	// ISA bus default every non-overridden legacy IRQ uses.
	redirActiveLow      = 1 << 13
	redirLevelTriggered = 1 << 15
)

var ioapicBase uintptr

// Override is a legacy ISA IRQ line's MADT Interrupt Source Override: the
// Global System Interrupt it is actually wired to, plus the polarity/
// trigger mode the override specifies. Mirrors acpi.Override; irq does not
// import the acpi package so kmain translates between the two.
type Override struct {
	GSI            uint32
	ActiveLow      bool
	LevelTriggered bool
}

// InitIOAPIC programs the redirection table so that legacy IRQ n is
// delivered to vector gate.IRQBase+n on destApicID, unless overrides names
// a different Global System Interrupt for that IRQ (as an ACPI MADT
// Interrupt Source Override entry would) — in which case the GSI slot is
// programmed instead, with the override's own polarity and trigger mode,
// and the legacy identity slot is left masked.
func InitIOAPIC(mmioBase uintptr, destAPICID uint8, overrides map[uint8]Override) {
	ioapicBase = mmioBase

	for irqLine := uint8(0); irqLine < 16; irqLine++ {
		gsi := uint32(irqLine)
		low := uint32(gate.IRQBase) + uint32(irqLine) // edge-triggered, active-high, fixed delivery, unmasked

		if o, ok := overrides[irqLine]; ok {
			gsi = o.GSI
			if o.ActiveLow {
				low |= redirActiveLow
			}
			if o.LevelTriggered {
				low |= redirLevelTriggered
			}
		}

		high := uint32(destAPICID) << 24

		writeRedirEntry(gsi, low, high)
	}
}

func writeRedirEntry(gsi uint32, low, high uint32) {
	reg := uint32(ioapicRedTblBase) + gsi*2
	ioapicWrite(reg, low)
	ioapicWrite(reg+1, high)
}

func ioapicWrite(reg uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(ioapicBase + ioregsel)) = reg
	*(*uint32)(unsafe.Pointer(ioapicBase + iowin)) = value
}

func ioapicRead(reg uint32) uint32 {
	*(*uint32)(unsafe.Pointer(ioapicBase + ioregsel)) = reg
	return *(*uint32)(unsafe.Pointer(ioapicBase + iowin))
}
