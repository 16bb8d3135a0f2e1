package driver

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"proplink/logger"
)

// SerialPort wraps go.bug.st/serial for UART communication
type SerialPort struct {
	serial.Port
	portName string
}

var _ Port = (*SerialPort)(nil)

// openSerialPort opens a physical serial port with 8N1 framing
func openSerialPort(portName string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(NoTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	logger.Info("Serial port %s opened at %d bps (8N1)", portName, baudRate)
	return &SerialPort{Port: port, portName: portName}, nil
}

// Read reads from the port, mapping CR to NL the way ICRNL would.
func (p *SerialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n > 0 {
		translateCR(b[:n])
	}
	return n, mapPortError(err)
}

func (p *SerialPort) Write(b []byte) (int, error) {
	n, err := p.Port.Write(b)
	return n, mapPortError(err)
}

// SetReadTimeout maps NoTimeout onto the library's own sentinel.
func (p *SerialPort) SetReadTimeout(t time.Duration) error {
	if t < 0 {
		t = serial.NoTimeout
	}
	return p.Port.SetReadTimeout(t)
}

func (p *SerialPort) GetPortName() string {
	return p.portName
}

func translateCR(b []byte) {
	for i := bytes.IndexByte(b, '\r'); i >= 0; i = bytes.IndexByte(b, '\r') {
		b[i] = '\n'
	}
}

// mapPortError turns the library's closed-port code into ErrPortClosed.
func mapPortError(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %v", ErrPortClosed, perr)
	}
	return err
}
