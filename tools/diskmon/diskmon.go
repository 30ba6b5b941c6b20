// Command diskmon is an interactive serial console: it puts the host
// terminal into raw mode and bridges keystrokes/output between the operator
// and a running QEMU instance's serial port (a Unix socket or a plain
// character device, depending on how QEMU was launched with
// -serial unix:path or -serial /dev/ttyUSB0), the same shape as a bare
// minicom/screen session but scripted so the dev-loop scripts can drive it.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// exitSequence is the key combination (Ctrl-]) that drops the operator back
// to the host shell, mirroring the classic telnet/minicom escape key.
const exitSequence = 0x1d

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[diskmon] error: %s\n", err.Error())
	os.Exit(1)
}

func dial(addr string) (io.ReadWriteCloser, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		return net.Dial("unix", strings.TrimPrefix(addr, "unix:"))
	default:
		return os.OpenFile(addr, os.O_RDWR, 0)
	}
}

// bridge copies bytes from the serial connection to stdout until the
// connection closes, and from stdin to the serial connection until it sees
// the escape byte, at which point it signals done and stops reading stdin.
func bridge(conn io.ReadWriteCloser, stdin io.Reader, stdout io.Writer) {
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		io.Copy(stdout, conn)
	}()

	buf := make([]byte, 1)
	for {
		if _, err := stdin.Read(buf); err != nil {
			break
		}
		if buf[0] == exitSequence {
			break
		}
		if _, err := conn.Write(buf); err != nil {
			break
		}
	}

	conn.Close()
	wg.Wait()
}

func run(addr string) error {
	conn, err := dial(addr)
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("stdin is not a terminal")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	rows, cols, err := winsize(fd)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "[diskmon] connected to %s (%dx%d), press Ctrl-] to exit\r\n", addr, cols, rows)
	bridge(conn, os.Stdin, os.Stdout)
	return nil
}

// winsize reports the host terminal's current size via the TIOCGWINSZ
// ioctl.
func winsize(fd int) (rows, cols int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Row), int(ws.Col), nil
}

func main() {
	addr := flag.String("addr", "unix:/tmp/rustica-serial.sock", "serial endpoint: unix:<path> or a device path")
	flag.Parse()

	if err := run(*addr); err != nil {
		exit(err)
	}
}
