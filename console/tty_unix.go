//go:build linux || darwin

package console

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type tty struct {
	in  int
	out *os.File
}

func stdTerminal() terminal {
	return &tty{in: int(os.Stdin.Fd()), out: os.Stdout}
}

func (t *tty) rawMode() (func() error, error) {
	old, err := unix.IoctlGetTermios(t.in, ioctlGetTermios)
	if err != nil {
		return nil, fmt.Errorf("console: get termios: %w", err)
	}
	raw := *old
	raw.Lflag &^= unix.ICANON | unix.ECHO
	if err := unix.IoctlSetTermios(t.in, ioctlSetTermios, &raw); err != nil {
		return nil, fmt.Errorf("console: set termios: %w", err)
	}

	flags, err := unix.FcntlInt(uintptr(t.in), unix.F_GETFL, 0)
	if err == nil {
		_, err = unix.FcntlInt(uintptr(t.in), unix.F_SETFL, flags|unix.O_NONBLOCK)
	}
	if err != nil {
		unix.IoctlSetTermios(t.in, ioctlSetTermios, old)
		return nil, fmt.Errorf("console: set non-blocking: %w", err)
	}

	return func() error {
		_, ferr := unix.FcntlInt(uintptr(t.in), unix.F_SETFL, flags)
		terr := unix.IoctlSetTermios(t.in, ioctlSetTermios, old)
		return errors.Join(ferr, terr)
	}, nil
}

func (t *tty) readByte() (byte, bool, error) {
	var buf [1]byte
	n, err := unix.Read(t.in, buf[:])
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("console: read: %w", err)
	}
	if n < 1 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

func (t *tty) write(p []byte) (int, error) {
	return t.out.Write(p)
}
