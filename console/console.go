// Package console bridges the host keyboard and screen into a device
// session. Every call switches the local terminal into raw mode and
// restores it before returning, on every path.
package console

import (
	"errors"
	"sync"
)

// EOF is returned by ReadKey when no key is pending.
const EOF = -1

// ErrUnsupported is returned where no terminal control is available.
var ErrUnsupported = errors.New("console: raw terminal mode not supported on this platform")

// terminal is the tty control the Console needs.
type terminal interface {
	// rawMode disables line buffering and echo and makes reads
	// non-blocking. The returned func restores the previous mode.
	rawMode() (restore func() error, err error)
	// readByte reads one byte without waiting; ok is false when none is pending.
	readByte() (b byte, ok bool, err error)
	write(p []byte) (int, error)
}

// Console is the local keyboard and display.
type Console struct {
	term terminal

	mu      sync.Mutex
	pending int
}

// New returns a Console on the process's stdin and stdout.
func New() *Console {
	return newConsole(stdTerminal())
}

func newConsole(term terminal) *Console {
	return &Console{term: term, pending: EOF}
}

// KeyPressed reports whether a keystroke is waiting, without consuming it.
func (c *Console) KeyPressed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != EOF {
		return true, nil
	}
	b, ok, err := c.poll()
	if err != nil || !ok {
		return false, err
	}
	c.pending = int(b)
	return true, nil
}

// ReadKey consumes one keystroke, or returns EOF when none is waiting.
func (c *Console) ReadKey() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != EOF {
		k := c.pending
		c.pending = EOF
		return k, nil
	}
	b, ok, err := c.poll()
	if err != nil || !ok {
		return EOF, err
	}
	return int(b), nil
}

// WriteChar echoes one character. A backspace erases the previous cell.
func (c *Console) WriteChar(b byte) error {
	out := []byte{b}
	if b == '\b' {
		out = []byte("\b \b")
	}
	_, err := c.term.write(out)
	return err
}

func (c *Console) poll() (b byte, ok bool, err error) {
	err = c.withRaw(func() error {
		var rerr error
		b, ok, rerr = c.term.readByte()
		return rerr
	})
	return b, ok, err
}

func (c *Console) withRaw(fn func() error) (err error) {
	restore, err := c.term.rawMode()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}
