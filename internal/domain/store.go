package domain

import (
	"context"
	"time"
)

// SensorStore persists sensor records. Every mutator is a single atomic
// operation in the backing store.
type SensorStore interface {
	// Insert stores a new sensor, returning ErrAlreadyExists on a duplicate id.
	Insert(ctx context.Context, s Sensor) error
	// Get returns ErrNotFound when the sensor is not registered.
	Get(ctx context.Context, id SensorID) (Sensor, error)
	// Delete returns ErrNotFound when the sensor is not registered.
	Delete(ctx context.Context, id SensorID) error

	SetState(ctx context.Context, id SensorID, state State) error
	SetOutlier(ctx context.Context, id SensorID, outlier bool) error
	// TouchLastUpdate advances LastUpdate to at, never moving it backwards.
	TouchLastUpdate(ctx context.Context, id SensorID, at time.Time) error

	// ListByFace returns matching sensor ids in ascending order.
	ListByFace(ctx context.Context, face Face, filter StateFilter) ([]SensorID, error)
	// ListByState returns matching sensors in ascending id order.
	ListByState(ctx context.Context, filter StateFilter) ([]Sensor, error)

	// MarkStale flips every OK sensor with LastUpdate before cutoff to
	// Faulty and returns how many changed.
	MarkStale(ctx context.Context, cutoff time.Time) (int, error)
	// ReplaceOutliers sets the outlier flag on every OK sensor of face to
	// whether its id is in outliers, in one atomic update.
	ReplaceOutliers(ctx context.Context, face Face, outliers []SensorID) error

	Ping(ctx context.Context) error
}

// ReadingStore is the append-only temperature time series.
type ReadingStore interface {
	Append(ctx context.Context, r Reading) error

	// AverageInWindow averages one sensor's readings in w. ok is false
	// when the window holds no readings.
	AverageInWindow(ctx context.Context, id SensorID, w Window) (avg float64, ok bool, err error)
	// AverageInWindowForSensors averages every reading of the given sensors
	// in w as one population; sensors with more readings weigh more.
	AverageInWindowForSensors(ctx context.Context, ids []SensorID, w Window) (avg float64, ok bool, err error)

	EarliestTimestamp(ctx context.Context) (ts time.Time, ok bool, err error)
	// ListForSensor returns the sensor's readings, newest first.
	ListForSensor(ctx context.Context, id SensorID) ([]Reading, error)

	DeleteAllForSensor(ctx context.Context, id SensorID) error
	DeleteAll(ctx context.Context) error
	// DeleteBefore purges readings with a timestamp before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
