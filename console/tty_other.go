//go:build !linux && !darwin

package console

import "os"

type tty struct{}

func stdTerminal() terminal {
	return tty{}
}

func (tty) rawMode() (func() error, error) {
	return nil, ErrUnsupported
}

func (tty) readByte() (byte, bool, error) {
	return 0, false, ErrUnsupported
}

func (tty) write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}
