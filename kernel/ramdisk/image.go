package ramdisk

import _ "embed"

// image is the build's embedded ramdisk archive, produced by
// tools/mkramdisk and baked into the kernel binary at compile time. The
// checked-in image.bin is an empty archive (zero files); a real build
// overwrites it before `go build` runs.
//
//go:embed image.bin
var image []byte

// Embedded returns the build's compiled-in ramdisk archive.
func Embedded() []byte {
	return image
}
