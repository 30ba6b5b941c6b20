package console

// glyph8x8 holds an 8x8 1bpp bitmap font. No bitmap font asset shipped with
// this kernel's ancestry (its text console always drew through VGA's own
// hardware font), so a GOP framebuffer console needs one of its own. The
// table below covers space, digits, upper-case letters and the punctuation
// the kernel's own log output actually uses; anything outside that range
// falls back to a hollow box so missing glyphs are visible rather than
// silently blank.
//
// Each row is read most-significant-bit-first, one bit per pixel.
var glyph8x8 = map[byte][8]byte{
	' ':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	'.':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x18, 0x18, 0x00},
	',':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x18, 0x18, 0x30},
	':':  {0x00, 0x18, 0x18, 0x00, 0x00, 0x18, 0x18, 0x00},
	'-':  {0x00, 0x00, 0x00, 0x7e, 0x7e, 0x00, 0x00, 0x00},
	'_':  {0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff},
	'/':  {0x03, 0x06, 0x0c, 0x18, 0x30, 0x60, 0xc0, 0x00},
	'[':  {0x3c, 0x30, 0x30, 0x30, 0x30, 0x30, 0x3c, 0x00},
	']':  {0x3c, 0x0c, 0x0c, 0x0c, 0x0c, 0x0c, 0x3c, 0x00},
	'(':  {0x0c, 0x18, 0x30, 0x30, 0x30, 0x18, 0x0c, 0x00},
	')':  {0x30, 0x18, 0x0c, 0x0c, 0x0c, 0x18, 0x30, 0x00},
	'%':  {0xc6, 0xcc, 0x18, 0x30, 0x60, 0xc6, 0x86, 0x00},
	'#':  {0x6c, 0x6c, 0xfe, 0x6c, 0xfe, 0x6c, 0x6c, 0x00},
	'=':  {0x00, 0x00, 0x7e, 0x00, 0x7e, 0x00, 0x00, 0x00},
	'+':  {0x00, 0x18, 0x18, 0x7e, 0x18, 0x18, 0x00, 0x00},
	'*':  {0x00, 0x66, 0x3c, 0xff, 0x3c, 0x66, 0x00, 0x00},
	'!':  {0x18, 0x18, 0x18, 0x18, 0x18, 0x00, 0x18, 0x00},
	'0':  {0x3c, 0x66, 0x6e, 0x76, 0x66, 0x66, 0x3c, 0x00},
	'1':  {0x18, 0x38, 0x18, 0x18, 0x18, 0x18, 0x7e, 0x00},
	'2':  {0x3c, 0x66, 0x06, 0x0c, 0x30, 0x60, 0x7e, 0x00},
	'3':  {0x3c, 0x66, 0x06, 0x1c, 0x06, 0x66, 0x3c, 0x00},
	'4':  {0x0c, 0x1c, 0x3c, 0x6c, 0x7e, 0x0c, 0x0c, 0x00},
	'5':  {0x7e, 0x60, 0x7c, 0x06, 0x06, 0x66, 0x3c, 0x00},
	'6':  {0x3c, 0x66, 0x60, 0x7c, 0x66, 0x66, 0x3c, 0x00},
	'7':  {0x7e, 0x06, 0x0c, 0x18, 0x30, 0x30, 0x30, 0x00},
	'8':  {0x3c, 0x66, 0x66, 0x3c, 0x66, 0x66, 0x3c, 0x00},
	'9':  {0x3c, 0x66, 0x66, 0x3e, 0x06, 0x66, 0x3c, 0x00},
	'A':  {0x18, 0x3c, 0x66, 0x66, 0x7e, 0x66, 0x66, 0x00},
	'B':  {0x7c, 0x66, 0x66, 0x7c, 0x66, 0x66, 0x7c, 0x00},
	'C':  {0x3c, 0x66, 0x60, 0x60, 0x60, 0x66, 0x3c, 0x00},
	'D':  {0x78, 0x6c, 0x66, 0x66, 0x66, 0x6c, 0x78, 0x00},
	'E':  {0x7e, 0x60, 0x60, 0x7c, 0x60, 0x60, 0x7e, 0x00},
	'F':  {0x7e, 0x60, 0x60, 0x7c, 0x60, 0x60, 0x60, 0x00},
	'G':  {0x3c, 0x66, 0x60, 0x6e, 0x66, 0x66, 0x3c, 0x00},
	'H':  {0x66, 0x66, 0x66, 0x7e, 0x66, 0x66, 0x66, 0x00},
	'I':  {0x7e, 0x18, 0x18, 0x18, 0x18, 0x18, 0x7e, 0x00},
	'J':  {0x06, 0x06, 0x06, 0x06, 0x06, 0x66, 0x3c, 0x00},
	'K':  {0x66, 0x6c, 0x78, 0x70, 0x78, 0x6c, 0x66, 0x00},
	'L':  {0x60, 0x60, 0x60, 0x60, 0x60, 0x60, 0x7e, 0x00},
	'M':  {0x63, 0x77, 0x7f, 0x6b, 0x63, 0x63, 0x63, 0x00},
	'N':  {0x66, 0x76, 0x7e, 0x7e, 0x6e, 0x66, 0x66, 0x00},
	'O':  {0x3c, 0x66, 0x66, 0x66, 0x66, 0x66, 0x3c, 0x00},
	'P':  {0x7c, 0x66, 0x66, 0x7c, 0x60, 0x60, 0x60, 0x00},
	'Q':  {0x3c, 0x66, 0x66, 0x66, 0x6e, 0x6c, 0x36, 0x00},
	'R':  {0x7c, 0x66, 0x66, 0x7c, 0x78, 0x6c, 0x66, 0x00},
	'S':  {0x3c, 0x66, 0x60, 0x3c, 0x06, 0x66, 0x3c, 0x00},
	'T':  {0x7e, 0x18, 0x18, 0x18, 0x18, 0x18, 0x18, 0x00},
	'U':  {0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x3c, 0x00},
	'V':  {0x66, 0x66, 0x66, 0x66, 0x66, 0x3c, 0x18, 0x00},
	'W':  {0x63, 0x63, 0x63, 0x6b, 0x7f, 0x77, 0x63, 0x00},
	'X':  {0x66, 0x66, 0x3c, 0x18, 0x3c, 0x66, 0x66, 0x00},
	'Y':  {0x66, 0x66, 0x66, 0x3c, 0x18, 0x18, 0x18, 0x00},
	'Z':  {0x7e, 0x06, 0x0c, 0x18, 0x30, 0x60, 0x7e, 0x00},
}

var glyphFallback = [8]byte{0x00, 0x7e, 0x42, 0x42, 0x42, 0x42, 0x7e, 0x00}

// glyphRow returns the bit pattern for row (0-7) of ch, upper-casing letters
// since the table only carries one case.
func glyphRow(ch byte, row uint8) byte {
	if ch >= 'a' && ch <= 'z' {
		ch -= 'a' - 'A'
	}

	bmp, ok := glyph8x8[ch]
	if !ok {
		bmp = glyphFallback
	}

	return bmp[row]
}
