// Package reset reboots an attached microcontroller by pulsing DTR.
//
// Many boards sample a reset/boot-select line at power-up: the line must
// be held long enough to register, then released and given time to settle
// before the bootloader listens.
package reset

import (
	"fmt"
	"time"

	"proplink/clock"
	"proplink/logger"
	"proplink/transport"
)

const (
	// AssertHold is how long DTR stays asserted.
	AssertHold = 25 * time.Millisecond
	// SettleHold is the wait after DTR is released.
	SettleHold = 100 * time.Millisecond
)

// Line is a control line that can be asserted and released.
type Line interface {
	SetDTR(level bool) error
}

var _ Line = (*transport.Conn)(nil)

// Error reports which step of the sequence failed.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reset %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sequencer drives the assert/release pattern.
type Sequencer struct {
	Clock  clock.Clock
	Assert time.Duration
	Settle time.Duration
}

// New returns a Sequencer with the standard timings.
func New() *Sequencer {
	return &Sequencer{
		Clock:  clock.Default,
		Assert: AssertHold,
		Settle: SettleHold,
	}
}

// Reset asserts the line, holds, releases it and waits for the device to
// settle. Nothing else may write to the connection meanwhile.
func (s *Sequencer) Reset(line Line) error {
	c := s.Clock
	if c == nil {
		c = clock.Default
	}

	logger.Debug("Reset: asserting DTR for %v", s.Assert)
	if err := line.SetDTR(true); err != nil {
		return &Error{Step: "assert", Err: err}
	}
	c.Sleep(s.Assert)

	if err := line.SetDTR(false); err != nil {
		return &Error{Step: "deassert", Err: err}
	}
	c.Sleep(s.Settle)

	logger.Debug("Reset: device settled after %v", s.Settle)
	return nil
}

// Device resets the board on conn with the standard timings.
func Device(conn *transport.Conn) error {
	return New().Reset(conn)
}
