package telemetry

import (
	"context"
	"fmt"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
)

// Engine computes windowed temperature averages.
type Engine struct {
	sensors  domain.SensorStore
	readings domain.ReadingStore
}

// NewEngine creates an Engine over the given stores.
func NewEngine(sensors domain.SensorStore, readings domain.ReadingStore) *Engine {
	return &Engine{sensors: sensors, readings: readings}
}

// AggregateBySensor averages one sensor's readings in w. ok is false when the
// window holds no readings, including for ids that are not registered.
func (e *Engine) AggregateBySensor(ctx context.Context, id domain.SensorID, w domain.Window) (float64, bool, error) {
	if err := id.Validate(); err != nil {
		return 0, false, err
	}
	if err := w.Validate(); err != nil {
		return 0, false, err
	}
	avg, ok, err := e.readings.AverageInWindow(ctx, id, w)
	if err != nil {
		return 0, false, fmt.Errorf("aggregate sensor %d: %w", id, err)
	}
	return avg, ok, nil
}

// AggregateByFace averages every reading of the face's OK sensors in w as a
// single population, so sensors that report more often weigh more.
func (e *Engine) AggregateByFace(ctx context.Context, face domain.Face, w domain.Window) (float64, bool, error) {
	if !face.Valid() {
		return 0, false, fmt.Errorf("%w: sensor face %s", domain.ErrInvalidInput, face)
	}
	if err := w.Validate(); err != nil {
		return 0, false, err
	}
	ids, err := e.sensors.ListByFace(ctx, face, domain.OnlyOK)
	if err != nil {
		return 0, false, fmt.Errorf("aggregate face %s: %w", face, err)
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	avg, ok, err := e.readings.AverageInWindowForSensors(ctx, ids, w)
	if err != nil {
		return 0, false, fmt.Errorf("aggregate face %s: %w", face, err)
	}
	return avg, ok, nil
}
