// Package acpi walks just enough of the ACPI table tree to bring up
// interrupt delivery: given the RSDP physical address the UEFI trampoline
// recorded (see kernel/hal/uefi), it locates the MADT and extracts the
// bootstrap processor's local APIC ID, the IOAPIC's MMIO base address and
// any legacy-IRQ-to-GSI overrides. Everything else ACPI describes (the
// FADT, the DSDT/SSDT AML namespace, power management) is out of scope;
// this kernel never sleeps or powers anything off.
//
// Tables are read directly off their physical addresses. At the point
// Parse is called, kmain has not yet built a paging layer of its own and
// is still running under the identity map the UEFI trampoline leaves
// behind, so no vmm mapping call is needed here (contrast kernel/irq,
// which runs later and does need one for the LAPIC/IOAPIC MMIO windows).
package acpi

import "unsafe"

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2
)

var (
	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
	madtSignature = [4]byte{'A', 'P', 'I', 'C'}
)

// rsdpDescriptor is the ACPI 1.0 root system descriptor pointer.
type rsdpDescriptor struct {
	Signature [8]byte
	Checksum  uint8
	OEMID     [6]byte
	Revision  uint8
	RSDTAddr  uint32
}

// extRSDPDescriptor extends rsdpDescriptor for ACPI 2.0+, adding a 64-bit
// XSDT pointer at the same physical offset.
type extRSDPDescriptor struct {
	rsdpDescriptor
	Length           uint32
	XSDTAddr         uint64
	ExtendedChecksum uint8
	reserved         [3]byte
}

// sdtHeader is the common header shared by every ACPI table.
type sdtHeader struct {
	Signature [4]byte
	Length    uint32
	Revision  uint8
	Checksum  uint8

	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	CreatorID       uint32
	CreatorRevision uint32
}

// madtHeader is the MADT-specific prefix that follows sdtHeader; the
// variable-length entry stream starts immediately after it.
type madtHeader struct {
	sdtHeader
	LocalControllerAddress uint32
	Flags                  uint32
}

type madtEntryType uint8

const (
	madtEntryLocalAPIC madtEntryType = iota
	madtEntryIOAPIC
	madtEntryIntSrcOverride
	madtEntryNMI
)

type madtEntryHeader struct {
	Type   madtEntryType
	Length uint8
}

type madtLocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

type madtIOAPIC struct {
	APICID           uint8
	reserved         uint8
	Address          uint32
	SysInterruptBase uint32
}

type madtIntSrcOverride struct {
	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32
	Flags           uint16
}

// madtLocalAPICEnabled mirrors the MADT Local APIC flags bit that marks a
// processor entry usable (some firmware lists disabled hyperthread/socket
// placeholders alongside the real, enabled ones).
const madtLocalAPICEnabled = 1 << 0

// MPS INTI flags (ACPI "Interrupt Source Override" entries carry these in
// their 16-bit Flags field): bits [1:0] are polarity, bits [3:2] are
// trigger mode. A value of 0 in either field means "conforms to the bus
// spec", which for the ISA bus this kernel's overrides always describe is
// active-high, edge-triggered.
const (
	mpsPolarityMask      = 0x3
	mpsPolarityActiveLow = 0x3
	mpsTriggerMask       = 0x3 << 2
	mpsTriggerLevel      = 0x3 << 2
)

// Override records a MADT Interrupt Source Override entry for one legacy
// ISA IRQ line: the Global System Interrupt it is actually wired to, plus
// the polarity/trigger mode the override specifies.
type Override struct {
	GSI            uint32
	ActiveLow      bool
	LevelTriggered bool
}

// Info is everything kernel/irq needs to finish bringing up interrupt
// delivery, extracted from the MADT.
type Info struct {
	// BSPAPICID is the local APIC ID of the first enabled processor entry,
	// used as the destination for every IOAPIC redirection table entry
	// this kernel programs (it never routes interrupts to a second CPU).
	BSPAPICID uint8

	// IOAPICPhysAddr is the physical MMIO base address of the first I/O
	// APIC the MADT describes. A system with more than one IOAPIC is out
	// of scope; only the first is used.
	IOAPICPhysAddr uintptr

	// Overrides maps a legacy ISA IRQ line to the Override a MADT
	// Interrupt Source Override entry describes for it (the PIT's IRQ0 is
	// commonly remapped to GSI 2, for example). A line with no entry here
	// uses its identity GSI with the ISA bus default polarity/trigger.
	Overrides map[uint8]Override
}

// Parse locates the RSDT/XSDT from rsdpPhysAddr, walks its table pointers
// looking for the MADT, and extracts the fields InitIOAPIC/initLAPIC need.
// It returns false if no RSDP was handed off (rsdpPhysAddr == 0), or if no
// MADT is present. kmain has no IRQ path without ACPI and panics when Parse
// returns false.
func Parse(rsdpPhysAddr uintptr) (Info, bool) {
	var info Info
	info.Overrides = make(map[uint8]Override)

	if rsdpPhysAddr == 0 {
		return info, false
	}

	rsdp := (*rsdpDescriptor)(unsafe.Pointer(rsdpPhysAddr))
	if rsdp.Signature != rsdpSignature {
		return info, false
	}

	var (
		rootAddr uintptr
		useXSDT  bool
	)
	if rsdp.Revision >= acpiRev2Plus {
		ext := (*extRSDPDescriptor)(unsafe.Pointer(rsdpPhysAddr))
		rootAddr = uintptr(ext.XSDTAddr)
		useXSDT = true
	} else {
		rootAddr = uintptr(rsdp.RSDTAddr)
	}

	root := (*sdtHeader)(unsafe.Pointer(rootAddr))
	payloadLen := root.Length - uint32(unsafe.Sizeof(sdtHeader{}))
	entriesAddr := rootAddr + unsafe.Sizeof(sdtHeader{})

	var sdtAddrs []uintptr
	if useXSDT {
		n := payloadLen / 8
		sdtAddrs = make([]uintptr, n)
		for i := uint32(0); i < n; i++ {
			sdtAddrs[i] = uintptr(*(*uint64)(unsafe.Pointer(entriesAddr + uintptr(i*8))))
		}
	} else {
		n := payloadLen / 4
		sdtAddrs = make([]uintptr, n)
		for i := uint32(0); i < n; i++ {
			sdtAddrs[i] = uintptr(*(*uint32)(unsafe.Pointer(entriesAddr + uintptr(i*4))))
		}
	}

	for _, addr := range sdtAddrs {
		header := (*sdtHeader)(unsafe.Pointer(addr))
		if header.Signature != madtSignature {
			continue
		}

		parseMADT((*madtHeader)(unsafe.Pointer(addr)), &info)
		return info, info.IOAPICPhysAddr != 0
	}

	return info, false
}

// parseMADT walks the variable-length entry stream following the MADT
// header, recording the first enabled Local APIC, the first I/O APIC and
// every Interrupt Source Override it finds.
func parseMADT(madt *madtHeader, info *Info) {
	base := uintptr(unsafe.Pointer(madt)) + unsafe.Sizeof(madtHeader{})
	end := uintptr(unsafe.Pointer(madt)) + uintptr(madt.Length)

	haveBSP := false
	for cur := base; cur < end; {
		entryHdr := (*madtEntryHeader)(unsafe.Pointer(cur))
		if entryHdr.Length == 0 {
			break
		}

		switch entryHdr.Type {
		case madtEntryLocalAPIC:
			if !haveBSP {
				lapic := (*madtLocalAPIC)(unsafe.Pointer(cur + unsafe.Sizeof(madtEntryHeader{})))
				if lapic.Flags&madtLocalAPICEnabled != 0 {
					info.BSPAPICID = lapic.APICID
					haveBSP = true
				}
			}
		case madtEntryIOAPIC:
			if info.IOAPICPhysAddr == 0 {
				ioapic := (*madtIOAPIC)(unsafe.Pointer(cur + unsafe.Sizeof(madtEntryHeader{})))
				info.IOAPICPhysAddr = uintptr(ioapic.Address)
			}
		case madtEntryIntSrcOverride:
			override := (*madtIntSrcOverride)(unsafe.Pointer(cur + unsafe.Sizeof(madtEntryHeader{})))
			info.Overrides[override.IRQSrc] = Override{
				GSI:            override.GlobalInterrupt,
				ActiveLow:      override.Flags&mpsPolarityMask == mpsPolarityActiveLow,
				LevelTriggered: override.Flags&mpsTriggerMask == mpsTriggerLevel,
			}
		}

		cur += uintptr(entryHdr.Length)
	}
}
