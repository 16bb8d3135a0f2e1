package driver

import (
	"errors"
	"io"
	"strings"
	"time"
)

// NoTimeout makes Read block until data arrives.
const NoTimeout time.Duration = -1

var (
	// ErrNoControlLine is returned by backends that cannot drive DTR.
	ErrNoControlLine = errors.New("control line not supported by this port")
	// ErrPortClosed is returned by operations on a closed port.
	ErrPortClosed = errors.New("port closed")
)

// Port defines the serial port interface for UART communication.
//
// Backends apply the fixed framing (8N1, no flow control, raw, CR->NL on
// input) when opened. Read honours the timeout set with SetReadTimeout:
// it returns (0, nil) when nothing arrived in time, a zero timeout polls.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	SetDTR(dtr bool) error
}

// Opener opens a Port for a target at a concrete baud rate.
type Opener func(target string, baud int) (Port, error)

const (
	tcpScheme      = "tcp://"
	bugstScheme    = "bugst:"
	loopbackScheme = "loop://"
)

// Open opens a port - TCP, loopback or physical serial - based on the target format.
//
//	tcp://host:port   serial-over-TCP device
//	loop://name       in-memory loopback
//	bugst:/dev/ttyX   physical port through go.bug.st/serial
//	/dev/ttyUSB0      physical port through the native backend
func Open(target string, baud int) (Port, error) {
	switch {
	case strings.HasPrefix(target, tcpScheme):
		port, err := OpenTCP(strings.TrimPrefix(target, tcpScheme))
		if err != nil {
			return nil, err
		}
		return port, nil
	case strings.HasPrefix(target, loopbackScheme):
		return NewLoopbackPort(), nil
	case strings.HasPrefix(target, bugstScheme):
		return openSerialPort(strings.TrimPrefix(target, bugstScheme), baud)
	}
	return openNativePort(target, baud)
}
