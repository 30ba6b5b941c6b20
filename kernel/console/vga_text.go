package console

import (
	"reflect"
	"sync"
	"unsafe"
)

const (
	vgaClearColor = Black
	vgaClearChar  = byte(' ')
)

// VgaText implements an EGA-compatible 80x25 text console at 0xB8000. It is
// selected whenever the trampoline reports no GOP framebuffer.
type VgaText struct {
	sync.Mutex

	width  uint16
	height uint16

	fb []uint16
}

// Init attaches the console to the text-mode framebuffer at fbPhysAddr,
// which must already be identity-mapped (or mapped by the caller) before
// Init runs.
func (cons *VgaText) Init(width, height uint16, fbPhysAddr uintptr) {
	cons.width = width
	cons.height = height

	cons.fb = *(*[]uint16)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(cons.width * cons.height),
		Cap:  int(cons.width * cons.height),
		Data: fbPhysAddr,
	}))
}

// Dimensions returns the console width and height in characters.
func (cons *VgaText) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Clear blanks the specified rectangular region.
func (cons *VgaText) Clear(x, y, width, height uint16) {
	var (
		attr                 = uint16((vgaClearColor << 4) | vgaClearColor)
		clr                  = attr | uint16(vgaClearChar)
		rowOffset, colOffset uint16
	)

	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}
	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	rowOffset = (y * cons.width) + x
	for ; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset = rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
	}
}

// Scroll moves the console contents by lines rows.
func (cons *VgaText) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	var i uint16
	offset := lines * cons.width

	switch dir {
	case Up:
		for ; i < (cons.height-lines)*cons.width; i++ {
			cons.fb[i] = cons.fb[i+offset]
		}
	case Down:
		for i = cons.height*cons.width - 1; i >= lines*cons.width; i-- {
			cons.fb[i] = cons.fb[i-offset]
		}
	}
}

// Write draws ch with attr at (x, y).
func (cons *VgaText) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	cons.fb[(y*cons.width)+x] = (uint16(attr) << 8) | uint16(ch)
}
