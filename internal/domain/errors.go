package domain

import "errors"

var (
	// ErrInvalidInput is returned when a sensor id, face, temperature,
	// timestamp or window fails validation. Nothing is read or written.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when the referenced sensor is not registered.
	ErrNotFound = errors.New("sensor not found")
	// ErrAlreadyExists is returned when registering a sensor id twice.
	ErrAlreadyExists = errors.New("sensor already exists")
	// ErrSensorDisabled is returned when a reading targets a faulty sensor.
	ErrSensorDisabled = errors.New("sensor disabled")
)
