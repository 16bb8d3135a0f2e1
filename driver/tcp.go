package driver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"proplink/logger"
)

// pollWindow is how long a zero-timeout read gives queued bytes to arrive.
const pollWindow = time.Millisecond

// TCPPort wraps a TCP connection as a Port interface
// Used for serial-over-TCP bridges and the mock device
type TCPPort struct {
	conn    net.Conn
	address string

	mu          sync.Mutex
	readTimeout time.Duration
}

// Ensure TCPPort implements Port interface
var _ Port = (*TCPPort)(nil)

// OpenTCP opens a TCP connection to a device bridge
func OpenTCP(address string) (*TCPPort, error) {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	logger.Info("Connected to device at %s (TCP)", address)
	return &TCPPort{conn: conn, address: address, readTimeout: NoTimeout}, nil
}

func (t *TCPPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	timeout := t.readTimeout
	t.mu.Unlock()

	var deadline time.Time
	switch {
	case timeout == 0:
		// an already expired deadline fails before the socket is tried
		deadline = time.Now().Add(pollWindow)
	case timeout > 0:
		deadline = time.Now().Add(timeout)
	}
	t.conn.SetReadDeadline(deadline)
	n, err = t.conn.Read(p)
	if n > 0 {
		translateCR(p[:n])
	}

	// Convert timeout to nil error (expected behavior)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	if errors.Is(err, net.ErrClosed) {
		return n, ErrPortClosed
	}
	return n, err
}

func (t *TCPPort) Write(p []byte) (n int, err error) {
	n, err = t.conn.Write(p)
	if errors.Is(err, net.ErrClosed) {
		err = ErrPortClosed
	}
	return n, err
}

func (t *TCPPort) Close() error {
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (t *TCPPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = timeout
	return nil
}

func (t *TCPPort) ResetInputBuffer() error {
	// Drain any pending data
	buf := make([]byte, 1024)
	for {
		t.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, err := t.conn.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	return nil
}

// SetDTR always fails: a raw TCP stream carries no modem lines.
func (t *TCPPort) SetDTR(bool) error {
	return ErrNoControlLine
}

// GetAddress returns the TCP address for logging
func (t *TCPPort) GetAddress() string {
	return t.address
}
