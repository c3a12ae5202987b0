package domain

import "github.com/jonboulle/clockwork"

// Clock is the time source for scans, reports and the retention reaper.
// Production code uses the real clock; tests inject a fake for deterministic output.
type Clock = clockwork.Clock

// ClockOrReal returns c, or the real clock when c is nil.
func ClockOrReal(c Clock) Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}
