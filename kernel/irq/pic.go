package irq

import "github.com/gitrustux/rustica/kernel/cpu"

// Legacy 8259A PIC I/O ports.
const (
	picMasterCmd  uint16 = 0x20
	picMasterData uint16 = 0x21
	picSlaveCmd   uint16 = 0xa0
	picSlaveData  uint16 = 0xa1
)

const (
	icw1Init = 0x10
	icw1ICW4 = 0x01
	icw4_8086 = 0x01
)

// maskLegacyPIC remaps the 8259A pair off the CPU exception range (as every
// BIOS leaves it, colliding with vectors 8-15) and then masks every line.
// The kernel drives interrupts through the LAPIC/IOAPIC; the legacy PIC is
// only brought up long enough to be disarmed, matching how real firmware
// handoffs leave it running until an OS takes over.
func maskLegacyPIC() {
	// ICW1: begin initialization, expect ICW4.
	cpu.PortWriteByte(picMasterCmd, icw1Init|icw1ICW4)
	cpu.PortWriteByte(picSlaveCmd, icw1Init|icw1ICW4)

	// ICW2: remap master to 0x20-0x27, slave to 0x28-0x2f (clear of the
	// CPU exception vectors even though nothing will ever fire here).
	cpu.PortWriteByte(picMasterData, 0x20)
	cpu.PortWriteByte(picSlaveData, 0x28)

	// ICW3: master has a slave on IRQ2; slave's cascade identity is 2.
	cpu.PortWriteByte(picMasterData, 0x04)
	cpu.PortWriteByte(picSlaveData, 0x02)

	// ICW4: 8086 mode.
	cpu.PortWriteByte(picMasterData, icw4_8086)
	cpu.PortWriteByte(picSlaveData, icw4_8086)

	// OCW1: mask every line. The IOAPIC owns interrupt routing from here.
	cpu.PortWriteByte(picMasterData, 0xff)
	cpu.PortWriteByte(picSlaveData, 0xff)
}
