// Package clock provides the sleep primitive used for device timing.
package clock

import "time"

// Clock blocks the caller for a duration.
type Clock interface {
	Sleep(d time.Duration)
}

// System sleeps on the runtime's monotonic timer.
type System struct{}

// Sleep implements Clock.
func (System) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	// loop until the monotonic deadline has passed
	deadline := time.Now().Add(d)
	for {
		time.Sleep(d)
		d = time.Until(deadline)
		if d <= 0 {
			return
		}
	}
}

// Default is the clock used when none is supplied.
var Default Clock = System{}

// SleepMilliseconds blocks for at least ms milliseconds.
// Do not call it from a goroutine that must stay responsive.
func SleepMilliseconds(c Clock, ms int) {
	if ms <= 0 {
		return
	}
	if c == nil {
		c = Default
	}
	c.Sleep(time.Duration(ms) * time.Millisecond)
}
