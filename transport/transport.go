// Package transport owns one open serial connection to an attached
// microcontroller: fixed framing, byte-exact writes, try-now and bounded
// reads, and the DTR control line used for resets.
//
// A Conn is meant for one controlling goroutine. Callers that share it
// must serialize access themselves.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"proplink/clock"
	"proplink/driver"
	"proplink/logger"
)

// DefaultBaud is used when the baud selector is 0.
const DefaultBaud = 115200

// ResolveBaud maps a baud selector onto a supported rate.
func ResolveBaud(baud int) (int, error) {
	switch baud {
	case 0:
		return DefaultBaud, nil
	case 115200, 57600, 38400:
		return baud, nil
	}
	return 0, &UnsupportedBaudError{Baud: baud}
}

// Config is what a Conn was opened with.
type Config struct {
	Target string
	Baud   int
}

// ReadResult is the outcome of ReadWithTimeout when no error occurred.
// TimedOut is set when the deadline passed with no data; otherwise N
// bytes were copied.
type ReadResult struct {
	N        int
	TimedOut bool
}

type options struct {
	opener driver.Opener
	clock  clock.Clock
}

// Option customizes Open.
type Option func(*options)

// WithOpener replaces the device backend dispatch.
func WithOpener(o driver.Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// WithClock replaces the clock used for post-write delays.
func WithClock(c clock.Clock) Option {
	return func(opts *options) { opts.clock = c }
}

// Conn is one open serial connection.
type Conn struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	port    driver.Port
	closed  bool
	timeout time.Duration
}

// Open validates the baud selector, opens target with the fixed framing
// and discards stale input.
func Open(target string, baud int, opts ...Option) (*Conn, error) {
	rate, err := ResolveBaud(baud)
	if err != nil {
		logger.Error("Refusing to open %s: %v", target, err)
		return nil, err
	}

	o := options{opener: driver.Open, clock: clock.Default}
	for _, opt := range opts {
		opt(&o)
	}

	port, err := o.opener(target, rate)
	if err != nil {
		logger.Error("Failed to open %s: %v", target, err)
		return nil, &OpenError{Target: target, Err: err}
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, &OpenError{Target: target, Err: fmt.Errorf("flush input: %w", err)}
	}

	logger.Info("Opened %s at %d bps", target, rate)
	return &Conn{
		cfg:     Config{Target: target, Baud: rate},
		clock:   o.clock,
		port:    port,
		timeout: driver.NoTimeout,
	}, nil
}

// Config returns the applied configuration.
func (c *Conn) Config() Config {
	return c.cfg
}

// Target returns the device identifier.
func (c *Conn) Target() string {
	return c.cfg.Target
}

// Close releases the device. Closing twice is not an error.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	logger.Info("Closed %s", c.cfg.Target)
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.cfg.Target, err)
	}
	return nil
}

// Write makes a single write attempt. Anything short of len(p) is a
// *ShortWriteError; the caller decides whether to retry or chunk.
func (c *Conn) Write(p []byte) (int, error) {
	port, err := c.livePort()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := port.Write(p)
	if n < 0 {
		n = 0
	}
	logger.Protocol("TX", c.cfg.Target, p[:n])
	if errors.Is(err, driver.ErrPortClosed) {
		return n, ErrClosed
	}
	if n < len(p) {
		return n, &ShortWriteError{Want: len(p), Got: n, Err: err}
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", c.cfg.Target, err)
	}
	return n, nil
}

// WriteThenDelay writes p and then pauses for delay, giving the device
// time to digest it. No pause follows a failed write.
func (c *Conn) WriteThenDelay(p []byte, delay time.Duration) (int, error) {
	n, err := c.Write(p)
	if err != nil {
		return n, err
	}
	c.clock.Sleep(delay)
	return n, nil
}

// Read copies whatever is available right now into p and never waits.
// It returns 0 with a nil error when nothing has arrived.
func (c *Conn) Read(p []byte) (int, error) {
	port, err := c.livePort()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return c.readOnce(port, p, 0)
}

// ReadWithTimeout waits until at least one byte is available or timeout
// elapses. Device failures come back as *ReadError, never as a timeout.
func (c *Conn) ReadWithTimeout(p []byte, timeout time.Duration) (ReadResult, error) {
	port, err := c.livePort()
	if err != nil {
		return ReadResult{}, err
	}
	if len(p) == 0 {
		return ReadResult{}, nil
	}
	if timeout < 0 {
		timeout = 0
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := c.readOnce(port, p, remaining)
		if err != nil {
			return ReadResult{}, err
		}
		if n > 0 {
			return ReadResult{N: n}, nil
		}
		if !time.Now().Before(deadline) {
			return ReadResult{TimedOut: true}, nil
		}
	}
}

// SetDTR drives the data-terminal-ready line.
func (c *Conn) SetDTR(level bool) error {
	port, err := c.livePort()
	if err != nil {
		return err
	}
	if err := port.SetDTR(level); err != nil {
		if errors.Is(err, driver.ErrPortClosed) {
			return ErrClosed
		}
		return fmt.Errorf("set DTR %v on %s: %w", level, c.cfg.Target, err)
	}
	return nil
}

func (c *Conn) readOnce(port driver.Port, p []byte, timeout time.Duration) (int, error) {
	if err := c.setTimeout(port, timeout); err != nil {
		return 0, &ReadError{Err: err}
	}
	n, err := port.Read(p)
	if n > 0 {
		logger.Protocol("RX", c.cfg.Target, p[:n])
	}
	if err != nil {
		if errors.Is(err, driver.ErrPortClosed) {
			return 0, ErrClosed
		}
		return 0, &ReadError{Err: err}
	}
	return n, nil
}

func (c *Conn) setTimeout(port driver.Port, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout == timeout {
		return nil
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return err
	}
	c.timeout = timeout
	return nil
}

func (c *Conn) livePort() (driver.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.port, nil
}
