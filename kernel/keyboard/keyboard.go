// Package keyboard decodes the legacy PS/2 keyboard's scancodes into a
// cooked byte stream and hands them to the scheduler's stdin wakeup path.
// It implements the keyboard half of the spec's IRQ stub contract: by the
// time irq.Register dispatches here (see kernel/irq), S1-S4 have already
// been honored by the assembly stub and irq.dispatch respectively, so this
// package only has to do its own device acknowledgment (reading port 0x60)
// before returning, never touching the LAPIC's EOI register directly.
//
// Line-buffering policy (spec open question, resolved here): stdin is
// line-buffered at LF. A blocked reader is woken only once a full line is
// available, not on every keystroke; this keeps
// the wakeup/consume contract simple and matches scenario S5's recommended
// choice.
package keyboard

import (
	"github.com/gitrustux/rustica/kernel/cpu"
	"github.com/gitrustux/rustica/kernel/sync"
)

const dataPort uint16 = 0x60

// ringSize bounds the cooked queue; a reader slower than the typist simply
// sees the oldest unread bytes evicted. The eviction is silent: nothing is
// logged and no read reports an error for the lost bytes.
const ringSize = 256

var (
	ring       [ringSize]byte
	readPos    uint32
	writePos   uint32
	count      uint32
	pendingLF  bool
	wakeFn     func()
	shiftHeld  bool
)

// SetWakeFn installs the callback invoked whenever a full line becomes
// available in the cooked queue — kernel/proc wires this to "make every
// process Blocked-on-stdin Ready".
func SetWakeFn(fn func()) {
	wakeFn = fn
}

// HandleIRQ is registered with irq.Register(1, keyboard.HandleIRQ). It reads
// the scancode, decodes it, and enqueues any resulting ASCII byte. The data
// port read happens unconditionally and first (S2): the controller will not
// generate another IRQ1 until it is read, regardless of whether this
// package has anything useful to do with the byte.
func HandleIRQ(line uint8) {
	scancode := cpu.PortReadByte(dataPort)
	decodeScancode(scancode)
}

// decodeScancode implements a minimal US-QWERTY, make-code-only (key
// release codes, which set the top bit, are used only to track shift state)
// mapping sufficient for a line-oriented shell: letters, digits, space,
// enter, backspace.
func decodeScancode(sc uint8) {
	const (
		scLeftShift  = 0x2a
		scRightShift = 0x36
		scEnter      = 0x1c
		scBackspace  = 0x0e
		releaseBit   = 0x80
	)

	if sc == scLeftShift || sc == scRightShift {
		shiftHeld = true
		return
	}
	if sc == scLeftShift|releaseBit || sc == scRightShift|releaseBit {
		shiftHeld = false
		return
	}
	if sc&releaseBit != 0 {
		return
	}

	switch sc {
	case scEnter:
		enqueue('\n')
		wakeIfLineReady()
		return
	case scBackspace:
		enqueue(0x08)
		return
	}

	if ch, ok := translate(sc, shiftHeld); ok {
		enqueue(ch)
	}
}

// enqueue appends b to the cooked ring, evicting the oldest byte if full.
// Called only from the IRQ path, which already runs with interrupts
// disabled for its duration (spec S1-S4); Enqueue by a syscall path (there
// is none here) would need sync.Guard around this.
func enqueue(b byte) {
	if count == ringSize {
		readPos = (readPos + 1) % ringSize
		count--
	}
	ring[writePos] = b
	writePos = (writePos + 1) % ringSize
	count++
}

func wakeIfLineReady() {
	if wakeFn != nil {
		wakeFn()
	}
}

// Available reports how many bytes are currently queued.
func Available() int {
	var n uint32
	sync.Guard(func() { n = count })
	return int(n)
}

// Read copies up to len(buf) bytes from the cooked queue into buf, removing
// them, and reports how many bytes were copied. It never blocks; blocking
// until a line is ready is the caller's (kernel/proc's read syscall path)
// responsibility, driven by SetWakeFn's callback.
func Read(buf []byte) int {
	var n int
	sync.Guard(func() {
		for n = 0; n < len(buf) && count > 0; n++ {
			buf[n] = ring[readPos]
			readPos = (readPos + 1) % ringSize
			count--
		}
	})
	return n
}
