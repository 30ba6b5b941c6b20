// Package console implements the physical console devices the kernel can
// draw to: a VGA-compatible text console, kept as the degraded fallback, and
// a linear-framebuffer console used whenever UEFI handed the trampoline a
// GOP mode. Package tty layers line-discipline (CR/LF, tab, backspace) on
// top of whichever of these is active.
package console

// Attr identifies one of the 16 standard EGA colors.
type Attr uint8

const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

// ScrollDir specifies the direction of a Scroll call.
type ScrollDir uint8

const (
	Up ScrollDir = iota
	Down
)

// Console is implemented by objects that can act as a physical console
// device. Both the VGA-text and framebuffer backends implement it so that
// tty.Vt can drive either without knowing which one is active.
type Console interface {
	// Dimensions returns the console width and height in characters.
	Dimensions() (uint16, uint16)

	// Clear blanks the specified rectangular region, in characters.
	Clear(x, y, width, height uint16)

	// Scroll moves the console contents by lines rows in dir. The caller
	// is responsible for blanking the row(s) the scroll exposes.
	Scroll(dir ScrollDir, lines uint16)

	// Write draws ch with the given color attribute at (x, y), in
	// characters.
	Write(ch byte, attr Attr, x, y uint16)
}
