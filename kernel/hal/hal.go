// Package hal is the thin hardware-abstraction seam between kmain and the
// concrete console/boot-info backends. It exists so that early.Printf and
// kfmt.Printf never need to know whether the machine gave UEFI a GOP
// framebuffer or fell back to VGA text mode.
package hal

import (
	"github.com/gitrustux/rustica/kernel/console"
	"github.com/gitrustux/rustica/kernel/hal/uefi"
	"github.com/gitrustux/rustica/kernel/tty"
)

// Terminal is the output sink early.Printf writes through before the heap
// (and therefore io.Writer-based plumbing) is available.
type Terminal interface {
	WriteByte(byte) error
	Write([]byte) (int, error)
}

var (
	fbConsole  console.Framebuffer
	vgaConsole console.VgaText

	// ActiveTerminal is the console early.Printf and the rest of the
	// Silent Boot Phase write to. It is valid as soon as InitTerminal
	// returns.
	ActiveTerminal Terminal = &tty.Vt{}
)

// vgaTextPhysAddr is the fixed physical address of the legacy VGA text
// framebuffer, used only when UEFI reported no GOP mode.
const vgaTextPhysAddr = 0xb8000

// InitTerminal brings up a console from the boot info block the UEFI
// trampoline left at bootInfoAddr and attaches ActiveTerminal to it. It must
// be called exactly once, as the very first step of kmain, before any call
// to early.Printf that expects visible output.
func InitTerminal(bootInfoAddr uintptr) {
	if !uefi.Init(bootInfoAddr) {
		// No usable boot info; fall back to the legacy text console
		// so early.Printf still has somewhere to write.
		vgaConsole.Init(80, 25, vgaTextPhysAddr)
		ActiveTerminal.(*tty.Vt).AttachTo(&vgaConsole)
		return
	}

	fbInfo := uefi.GetFramebufferInfo()
	if fbInfo.PhysAddr == 0 {
		vgaConsole.Init(80, 25, vgaTextPhysAddr)
		ActiveTerminal.(*tty.Vt).AttachTo(&vgaConsole)
		return
	}

	fbConsole.Init(
		uintptr(fbInfo.PhysAddr),
		fbInfo.Width, fbInfo.Height, fbInfo.PixelsPerScanLine,
		fbInfo.Format == uefi.PixelFormatBGRX8,
	)
	ActiveTerminal.(*tty.Vt).AttachTo(&fbConsole)
}
