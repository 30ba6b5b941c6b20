package console

import (
	"reflect"
	"unsafe"
)

const (
	glyphW = 8
	glyphH = 8
)

// fbPalette is the fixed 16-color EGA-compatible palette the framebuffer
// console renders through; unlike the indexed/15/16bpp paths of older
// gopher-os consoles, a GOP linear framebuffer is always 32bpp, so there is
// no hardware DAC to program and no need to support multiple pixel depths.
var fbPalette = [16][3]byte{
	Black:        {0x00, 0x00, 0x00},
	Blue:         {0x00, 0x00, 0x80},
	Green:        {0x00, 0x80, 0x00},
	Cyan:         {0x00, 0x80, 0x80},
	Red:          {0x80, 0x00, 0x00},
	Magenta:      {0x80, 0x00, 0x80},
	Brown:        {0x80, 0x40, 0x00},
	LightGrey:    {0xc0, 0xc0, 0xc0},
	Grey:         {0x80, 0x80, 0x80},
	LightBlue:    {0x00, 0x00, 0xff},
	LightGreen:   {0x00, 0xff, 0x00},
	LightCyan:    {0x00, 0xff, 0xff},
	LightRed:     {0xff, 0x00, 0x00},
	LightMagenta: {0xff, 0x00, 0xff},
	LightBrown:   {0xff, 0xff, 0x00},
	White:        {0xff, 0xff, 0xff},
}

// bgrx reports whether the framebuffer's native channel order places blue in
// the low byte; if not (rgbx), red and blue are swapped before every pixel
// write.
type pixelOrder bool

const (
	orderRGBX pixelOrder = false
	orderBGRX pixelOrder = true
)

// Framebuffer implements a text console drawn onto a linear 32bpp
// framebuffer using the built-in 8x8 glyph table. It is selected whenever
// the UEFI trampoline reports a GOP mode.
type Framebuffer struct {
	fb []uint32

	pitchPx uint32 // pixels per scan line, may exceed widthPx
	widthPx uint32
	heightPx uint32

	widthChars  uint16
	heightChars uint16

	order pixelOrder
}

// Init maps cons onto the framebuffer at physAddr. pitchPx is the GOP mode's
// PixelsPerScanLine, which can be wider than widthPx when the firmware pads
// rows for alignment.
func (cons *Framebuffer) Init(physAddr uintptr, widthPx, heightPx, pitchPx uint32, bgrx bool) {
	cons.widthPx = widthPx
	cons.heightPx = heightPx
	cons.pitchPx = pitchPx
	if bgrx {
		cons.order = orderBGRX
	} else {
		cons.order = orderRGBX
	}

	cons.widthChars = uint16(widthPx / glyphW)
	cons.heightChars = uint16(heightPx / glyphH)

	npix := int(pitchPx * heightPx)
	cons.fb = *(*[]uint32)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  npix,
		Cap:  npix,
		Data: physAddr,
	}))
}

// Dimensions returns the console width and height in characters.
func (cons *Framebuffer) Dimensions() (uint16, uint16) {
	return cons.widthChars, cons.heightChars
}

func (cons *Framebuffer) pack(a Attr) uint32 {
	c := fbPalette[a&0xf]
	r, g, b := uint32(c[0]), uint32(c[1]), uint32(c[2])
	if cons.order == orderBGRX {
		return b | g<<8 | r<<16
	}
	return r | g<<8 | b<<16
}

// Clear blanks the specified rectangular region, in characters.
func (cons *Framebuffer) Clear(x, y, width, height uint16) {
	cons.fillRect(x, y, width, height, vgaClearColor)
}

func (cons *Framebuffer) fillRect(x, y, width, height uint16, attr Attr) {
	if x >= cons.widthChars {
		x = cons.widthChars
	}
	if y >= cons.heightChars {
		y = cons.heightChars
	}
	if uint16(x)+width > cons.widthChars {
		width = cons.widthChars - x
	}
	if uint16(y)+height > cons.heightChars {
		height = cons.heightChars - y
	}

	px := cons.pack(attr)
	pX := uint32(x) * glyphW
	pY := uint32(y) * glyphH
	pW := uint32(width) * glyphW
	pH := uint32(height) * glyphH

	rowStart := pY*cons.pitchPx + pX
	for ; pH > 0; pH, rowStart = pH-1, rowStart+cons.pitchPx {
		for off := rowStart; off < rowStart+pW; off++ {
			cons.fb[off] = px
		}
	}
}

// Scroll moves the console contents by lines rows of characters.
func (cons *Framebuffer) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.heightChars {
		return
	}

	offset := uint32(lines) * glyphH * cons.pitchPx

	switch dir {
	case Up:
		end := cons.pitchPx * (cons.heightPx - uint32(lines)*glyphH)
		for i := uint32(0); i < end; i++ {
			cons.fb[i] = cons.fb[i+offset]
		}
	case Down:
		start := offset
		for i := uint32(len(cons.fb)) - 1; i >= start; i-- {
			cons.fb[i] = cons.fb[i-offset]
		}
	}
}

// Write draws ch with attr at character position (x, y).
func (cons *Framebuffer) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.widthChars || y >= cons.heightChars {
		return
	}

	fg := cons.pack(attr & 0xf)
	bg := cons.pack((attr >> 4) & 0xf)

	pX := uint32(x) * glyphW
	pY := uint32(y) * glyphH
	rowStart := pY*cons.pitchPx + pX

	for row := uint8(0); row < glyphH; row, rowStart = row+1, rowStart+cons.pitchPx {
		bits := glyphRow(ch, row)
		mask := byte(1 << 7)
		for col := uint32(0); col < glyphW; col, mask = col+1, mask>>1 {
			if bits&mask != 0 {
				cons.fb[rowStart+col] = fg
			} else {
				cons.fb[rowStart+col] = bg
			}
		}
	}
}
