//go:build linux

package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creack/goselect"
	"golang.org/x/sys/unix"
	"proplink/logger"
)

var baudRates = map[int]uint32{
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// TermiosPort drives a tty directly through termios ioctls.
type TermiosPort struct {
	fd       int
	portName string

	mu          sync.Mutex
	closed      bool
	readTimeout time.Duration
}

var _ Port = (*TermiosPort)(nil)

func openNativePort(portName string, baudRate int) (Port, error) {
	return OpenTermios(portName, baudRate)
}

// OpenTermios opens name and applies the fixed framing:
// speed|CS8|CLOCAL|CREAD, IGNPAR|ICRNL, raw output, no local modes.
func OpenTermios(name string, baudRate int) (*TermiosPort, error) {
	speed, ok := baudRates[baudRate]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate: %d", baudRate)
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	t := unix.Termios{
		Cflag:  speed | unix.CS8 | unix.CLOCAL | unix.CREAD,
		Iflag:  unix.IGNPAR | unix.ICRNL,
		Ispeed: speed,
		Ospeed: speed,
	}
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flush %s: %w", name, err)
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set attributes %s: %w", name, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set blocking %s: %w", name, err)
	}

	logger.Info("Serial port %s opened at %d bps (8N1, termios)", name, baudRate)
	return &TermiosPort{fd: fd, portName: name, readTimeout: NoTimeout}, nil
}

// Read waits for readability within the read timeout, then reads once.
func (p *TermiosPort) Read(b []byte) (int, error) {
	fd, timeout, err := p.state()
	if err != nil {
		return 0, err
	}

	ready, err := waitReadable(fd, timeout)
	if err != nil || !ready {
		return 0, err
	}
	n, err := unix.Read(fd, b)
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *TermiosPort) Write(b []byte) (int, error) {
	fd, _, err := p.state()
	if err != nil {
		return 0, err
	}
	n, err := unix.Write(fd, b)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *TermiosPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *TermiosPort) ResetInputBuffer() error {
	fd, _, err := p.state()
	if err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
}

// SetDTR raises (TIOCMBIS) or drops (TIOCMBIC) the DTR line.
func (p *TermiosPort) SetDTR(dtr bool) error {
	fd, _, err := p.state()
	if err != nil {
		return err
	}
	req := uint(unix.TIOCMBIC)
	if dtr {
		req = unix.TIOCMBIS
	}
	return unix.IoctlSetPointerInt(fd, req, unix.TIOCM_DTR)
}

func (p *TermiosPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}

func (p *TermiosPort) GetPortName() string {
	return p.portName
}

func (p *TermiosPort) state() (int, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return -1, 0, ErrPortClosed
	}
	return p.fd, p.readTimeout, nil
}

// waitReadable blocks until fd is readable or timeout elapses.
// A negative timeout waits forever.
func waitReadable(fd int, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := time.Duration(-1)
		if timeout >= 0 {
			wait = time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
		}

		rfds := &goselect.FDSet{}
		rfds.Set(uintptr(fd))
		err := goselect.Select(fd+1, rfds, nil, nil, wait)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if rfds.IsSet(uintptr(fd)) {
			return true, nil
		}
		// select may wake a little before the deadline; keep waiting out the rest
		if timeout >= 0 && time.Now().Before(deadline) {
			continue
		}
		return false, nil
	}
}
