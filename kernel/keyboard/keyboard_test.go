package keyboard

import "testing"

// reset clears the package-level cooked-queue state between tests; the
// queue is a package global (see keyboard.go) since it is populated from an
// interrupt handler that has nowhere else to keep it.
func reset() {
	ring = [ringSize]byte{}
	readPos, writePos, count = 0, 0, 0
	shiftHeld = false
	wakeFn = nil
}

func TestDecodeScancodeTranslatesLetters(t *testing.T) {
	reset()
	decodeScancode(0x1e) // 'a'
	decodeScancode(0x1f) // 's'

	buf := make([]byte, 8)
	n := Read(buf)
	if string(buf[:n]) != "as" {
		t.Fatalf("expected \"as\"; got %q", buf[:n])
	}
}

func TestDecodeScancodeHonorsShift(t *testing.T) {
	reset()
	const scLeftShift = 0x2a
	const releaseBit = 0x80

	decodeScancode(scLeftShift)
	decodeScancode(0x1e) // 'a' -> 'A' while shift held
	decodeScancode(scLeftShift | releaseBit)
	decodeScancode(0x1e) // 'a' again, shift released

	buf := make([]byte, 8)
	n := Read(buf)
	if string(buf[:n]) != "Aa" {
		t.Fatalf("expected \"Aa\"; got %q", buf[:n])
	}
}

func TestDecodeScancodeIgnoresOtherKeyReleases(t *testing.T) {
	reset()
	const releaseBit = 0x80
	decodeScancode(0x1e | releaseBit) // release of 'a', not a shift key

	if Available() != 0 {
		t.Fatalf("expected a bare key release to enqueue nothing; got %d bytes queued", Available())
	}
}

func TestDecodeScancodeEnterWakesOnlyOnNewline(t *testing.T) {
	reset()
	woken := 0
	SetWakeFn(func() { woken++ })

	decodeScancode(0x1e) // 'a', no newline yet
	if woken != 0 {
		t.Fatalf("expected no wake before a newline; woken=%d", woken)
	}

	const scEnter = 0x1c
	decodeScancode(scEnter)
	if woken != 1 {
		t.Fatalf("expected exactly one wake on newline; woken=%d", woken)
	}

	buf := make([]byte, 8)
	n := Read(buf)
	if string(buf[:n]) != "a\n" {
		t.Fatalf("expected \"a\\n\"; got %q", buf[:n])
	}
}

func TestDecodeScancodeBackspaceEnqueuesControlByte(t *testing.T) {
	reset()
	const scBackspace = 0x0e
	decodeScancode(scBackspace)

	buf := make([]byte, 1)
	n := Read(buf)
	if n != 1 || buf[0] != 0x08 {
		t.Fatalf("expected a single 0x08 byte; got %v (n=%d)", buf, n)
	}
}

func TestRingEvictsOldestByteWhenFull(t *testing.T) {
	reset()
	for i := 0; i < ringSize+5; i++ {
		enqueue(byte('a' + i%26))
	}
	if Available() != ringSize {
		t.Fatalf("expected the ring to cap at %d bytes; got %d", ringSize, Available())
	}

	buf := make([]byte, 1)
	Read(buf)
	if buf[0] != byte('a'+5%26) {
		t.Fatalf("expected the oldest surviving byte after overflow; got %q", buf[0])
	}
}

func TestReadDrainsAvailableAndReportsShortCount(t *testing.T) {
	reset()
	enqueue('x')
	enqueue('y')

	buf := make([]byte, 8)
	n := Read(buf)
	if n != 2 || string(buf[:n]) != "xy" {
		t.Fatalf("expected a short read of \"xy\"; got %q (n=%d)", buf[:n], n)
	}
	if Available() != 0 {
		t.Fatalf("expected the queue to be empty after Read; got %d", Available())
	}
}
