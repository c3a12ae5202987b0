package domain

import (
	"fmt"
	"strconv"
	"time"
)

const (
	MinSensorID SensorID = 10000
	MaxSensorID SensorID = 99999
)

// SensorID identifies a sensor. Valid ids are five digit integers.
type SensorID int

// ParseSensorID parses a decimal sensor id and validates its range.
func ParseSensorID(s string) (SensorID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: sensor id %q", ErrInvalidInput, s)
	}
	id := SensorID(n)
	if err := id.Validate(); err != nil {
		return 0, err
	}
	return id, nil
}

// Validate checks that the id lies within [MinSensorID, MaxSensorID].
func (id SensorID) Validate() error {
	if id < MinSensorID || id > MaxSensorID {
		return fmt.Errorf("%w: sensor id %d out of range [%d, %d]", ErrInvalidInput, id, MinSensorID, MaxSensorID)
	}
	return nil
}

// State is the operational state of a sensor.
type State uint8

const (
	StateOK State = iota + 1
	StateFaulty
)

// OK reports whether the sensor accepts readings.
func (s State) OK() bool { return s == StateOK }

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateFaulty:
		return "faulty"
	default:
		return "unknown"
	}
}

// StateFromOK maps the boolean storage encoding back to a State.
func StateFromOK(ok bool) State {
	if ok {
		return StateOK
	}
	return StateFaulty
}

// StateFilter narrows sensor listings by state.
type StateFilter uint8

const (
	AnyState StateFilter = iota
	OnlyOK
	OnlyFaulty
)

// Match reports whether a sensor in state s passes the filter.
func (f StateFilter) Match(s State) bool {
	switch f {
	case OnlyOK:
		return s == StateOK
	case OnlyFaulty:
		return s == StateFaulty
	default:
		return true
	}
}

// Sensor is the registry record for one sensor.
type Sensor struct {
	ID      SensorID
	Face    Face
	State   State
	Outlier bool
	// LastUpdate is the timestamp of the most recent accepted reading,
	// zero if the sensor never reported.
	LastUpdate time.Time
}

// NewSensor builds a freshly registered sensor after validating id and face.
func NewSensor(id SensorID, face Face) (Sensor, error) {
	if err := id.Validate(); err != nil {
		return Sensor{}, err
	}
	if !face.Valid() {
		return Sensor{}, fmt.Errorf("%w: sensor face %s", ErrInvalidInput, face)
	}
	return Sensor{ID: id, Face: face, State: StateOK}, nil
}

// LastUpdateUnix returns LastUpdate as unix seconds, 0 if never reported.
func (s Sensor) LastUpdateUnix() int64 { return unixOrZero(s.LastUpdate) }

// UnixOrZero converts unix seconds to a time, mapping 0 to the zero time.
func UnixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
