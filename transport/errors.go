package transport

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every operation on a closed Conn.
var ErrClosed = errors.New("transport: connection closed")

// OpenError reports a device that could not be opened.
type OpenError struct {
	Target string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Target, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// UnsupportedBaudError reports a baud selector outside the supported set.
// No device I/O happens before it is returned.
type UnsupportedBaudError struct {
	Baud int
}

func (e *UnsupportedBaudError) Error() string {
	return fmt.Sprintf("unsupported baud rate %d (use 115200, 57600 or 38400)", e.Baud)
}

// ShortWriteError reports a write that moved fewer bytes than requested.
type ShortWriteError struct {
	Want int
	Got  int
	Err  error
}

func (e *ShortWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("short write: %d of %d bytes: %v", e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("short write: %d of %d bytes", e.Got, e.Want)
}

func (e *ShortWriteError) Unwrap() error {
	return e.Err
}

// ReadError is a device failure while reading, as opposed to no data yet.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
