package domain

import (
	"fmt"
	"math"
	"time"
)

// Reading is a single temperature sample.
type Reading struct {
	SensorID    SensorID
	Timestamp   time.Time
	Temperature float64
}

// Validate checks the sensor id, timestamp and temperature.
func (r Reading) Validate() error {
	if err := r.SensorID.Validate(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() || r.Timestamp.Unix() < 0 {
		return fmt.Errorf("%w: reading timestamp %v", ErrInvalidInput, r.Timestamp)
	}
	return ValidateTemperature(r.Temperature)
}

// ValidateTemperature rejects NaN and infinities.
func ValidateTemperature(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: temperature %v is not finite", ErrInvalidInput, t)
	}
	return nil
}

// Window is the half-open interval [Start, Start+Length).
type Window struct {
	Start  time.Time
	Length time.Duration
}

// maxDurationSeconds is the largest whole-second count a time.Duration holds.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// SecondsToDuration converts a non-negative second count, rejecting values
// that would overflow time.Duration.
func SecondsToDuration(seconds int64) (time.Duration, error) {
	if seconds < 0 || seconds > maxDurationSeconds {
		return 0, fmt.Errorf("%w: duration %d seconds out of range", ErrInvalidInput, seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// NewWindow builds a window from unix seconds. The length must be positive.
func NewWindow(startUnix, lengthSeconds int64) (Window, error) {
	if startUnix < 0 {
		return Window{}, fmt.Errorf("%w: window start %d", ErrInvalidInput, startUnix)
	}
	if lengthSeconds <= 0 {
		return Window{}, fmt.Errorf("%w: window length %d", ErrInvalidInput, lengthSeconds)
	}
	length, err := SecondsToDuration(lengthSeconds)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: time.Unix(startUnix, 0).UTC(), Length: length}, nil
}

// End returns the exclusive upper bound.
func (w Window) End() time.Time { return w.Start.Add(w.Length) }

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End())
}

// Validate rejects windows with a non-positive length.
func (w Window) Validate() error {
	if w.Length <= 0 {
		return fmt.Errorf("%w: window length %s", ErrInvalidInput, w.Length)
	}
	return nil
}
