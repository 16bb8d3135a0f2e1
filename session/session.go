// Package session keeps at most one device connection attached and
// forwards bytes between it and a front end (WebSocket relay, terminal).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"proplink/logger"
	"proplink/reset"
	"proplink/transport"
)

// MaxChunk is the most bytes handed to a Sink per wakeup.
const MaxChunk = 1024

// DefaultPollInterval bounds each readiness wait in Pump.
const DefaultPollInterval = 50 * time.Millisecond

// Sink receives bytes read from the device. The slice is owned by the sink.
type Sink func(data []byte)

// Session owns the single attached connection.
//
// Reads in Pump run alongside writes. Writes, DTR changes and resets are
// serialized so nothing is sent while the control line is being toggled.
type Session struct {
	State        *StateMachine
	Reset        *reset.Sequencer
	PollInterval time.Duration

	opts []transport.Option

	mu   sync.Mutex
	conn *transport.Conn

	ioMu sync.Mutex
}

func New(opts ...transport.Option) *Session {
	return &Session{
		State:        NewStateMachine(),
		Reset:        reset.New(),
		PollInterval: DefaultPollInterval,
		opts:         opts,
	}
}

// Attach opens target unless it is already the attached device, in which
// case the rate it was opened with stays in effect (see Conn().Config()).
// A different device replaces the current one, which is closed first.
func (s *Session) Attach(target string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if s.conn.Target() == target {
			if rate, err := transport.ResolveBaud(baud); err != nil || rate != s.conn.Config().Baud {
				logger.Warn("%s is already open at %d bps, ignoring requested rate %d",
					target, s.conn.Config().Baud, baud)
			}
			return nil
		}
		logger.Info("Switching from %s to %s", s.conn.Target(), target)
		s.conn.Close()
		s.conn = nil
	}

	s.State.SetTarget(target, baud)
	s.State.TransitionTo(StateOpening)

	conn, err := transport.Open(target, baud, s.opts...)
	if err != nil {
		s.State.TransitionToError(err.Error())
		return err
	}
	s.conn = conn
	s.State.SetTarget(target, conn.Config().Baud)
	s.State.TransitionTo(StateOpen)
	return nil
}

// Detach closes the attached connection, if any.
func (s *Session) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.State.TransitionTo(StateClosed)
	return err
}

// Conn returns the attached connection or nil.
func (s *Session) Conn() *transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Send forwards p one byte per write, stopping at the first failure.
func (s *Session) Send(p []byte) (int, error) {
	conn, err := s.attached()
	if err != nil {
		return 0, err
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	for i := range p {
		if _, err := conn.Write(p[i : i+1]); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// ResetDevice pulses DTR on the attached device.
func (s *Session) ResetDevice() error {
	conn, err := s.attached()
	if err != nil {
		return err
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.State.TransitionTo(StateResetting)
	if err := s.Reset.Reset(conn); err != nil {
		logger.Error("Reset of %s failed: %v", conn.Target(), err)
		s.State.TransitionToError(err.Error())
		return err
	}
	s.State.TransitionTo(StateOpen)
	return nil
}

// SetDTR drives the control line directly.
func (s *Session) SetDTR(level bool) error {
	conn, err := s.attached()
	if err != nil {
		return err
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return conn.SetDTR(level)
}

// Pump delivers received bytes to sink until ctx is done. Each wait is
// bounded by PollInterval so a newly attached device is picked up. A
// read failure detaches the device and the pump keeps waiting.
func (s *Session) Pump(ctx context.Context, sink Sink) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	buf := make([]byte, MaxChunk)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn := s.Conn()
		if conn == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			continue
		}

		res, err := conn.ReadWithTimeout(buf, interval)
		switch {
		case errors.Is(err, transport.ErrClosed):
			continue
		case err != nil:
			logger.Error("Read from %s failed: %v", conn.Target(), err)
			s.fail(conn, err)
			continue
		case res.TimedOut:
			continue
		}

		data := make([]byte, res.N)
		copy(data, buf[:res.N])
		sink(data)
	}
}

func (s *Session) fail(conn *transport.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn.Close()
	s.conn = nil
	s.State.TransitionToError(err.Error())
}

var errNotAttached = errors.New("no device attached")

func (s *Session) attached() (*transport.Conn, error) {
	conn := s.Conn()
	if conn == nil {
		return nil, fmt.Errorf("session: %w", errNotAttached)
	}
	return conn, nil
}

// IsNotAttached reports whether err came from using a Session with no device.
func IsNotAttached(err error) bool {
	return errors.Is(err, errNotAttached)
}
