package driver

import (
	"bytes"
	"sync"
	"time"
)

// DTRChange is one recorded transition of the loopback control line.
type DTRChange struct {
	Level bool
	At    time.Time
}

// LoopbackPort is an in-memory port: every byte written becomes readable.
// The knobs below let tests inject device-side faults.
type LoopbackPort struct {
	mu          sync.Mutex
	buf         *bytes.Buffer
	notify      chan struct{}
	closed      bool
	readTimeout time.Duration
	dtr         []DTRChange

	// WriteLimit caps the bytes accepted per Write when > 0.
	WriteLimit int
	// ReadErr is returned by Read when set.
	ReadErr error
	// DTRErr is returned by SetDTR when set.
	DTRErr error

	Flushes int
}

var _ Port = (*LoopbackPort)(nil)

func NewLoopbackPort() *LoopbackPort {
	return &LoopbackPort{
		buf:         new(bytes.Buffer),
		notify:      make(chan struct{}, 1),
		readTimeout: NoTimeout,
	}
}

func (m *LoopbackPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	timeout := m.readTimeout
	m.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return 0, ErrPortClosed
		case m.ReadErr != nil:
			err := m.ReadErr
			m.mu.Unlock()
			return 0, err
		case m.buf.Len() > 0:
			n, _ := m.buf.Read(p)
			m.mu.Unlock()
			translateCR(p[:n])
			return n, nil
		}
		m.mu.Unlock()

		if timeout == 0 {
			return 0, nil
		}
		select {
		case <-m.notify:
		case <-expired:
			return 0, nil
		}
	}
}

func (m *LoopbackPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrPortClosed
	}
	n := len(p)
	if m.WriteLimit > 0 && n > m.WriteLimit {
		n = m.WriteLimit
	}
	m.buf.Write(p[:n])
	m.wake()
	return n, nil
}

func (m *LoopbackPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.wake()
	return nil
}

func (m *LoopbackPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

func (m *LoopbackPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Reset()
	m.Flushes++
	return nil
}

func (m *LoopbackPort) SetDTR(dtr bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrPortClosed
	}
	if m.DTRErr != nil {
		return m.DTRErr
	}
	m.dtr = append(m.dtr, DTRChange{Level: dtr, At: time.Now()})
	return nil
}

// Inject makes p readable as if the device had sent it.
func (m *LoopbackPort) Inject(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Write(p)
	m.wake()
}

// DTRChanges returns the control line history.
func (m *LoopbackPort) DTRChanges() []DTRChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DTRChange(nil), m.dtr...)
}

// Closed reports whether Close was called.
func (m *LoopbackPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *LoopbackPort) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
