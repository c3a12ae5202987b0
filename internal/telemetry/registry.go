package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
)

// Source labels where an ingested reading came from.
type Source string

const (
	SourceHTTP  Source = "http"
	SourceKafka Source = "kafka"
)

// MaxClockSkew bounds how far past the server clock a reading timestamp may be.
const MaxClockSkew = 5 * time.Minute

// Registry manages sensor records and reading ingestion.
type Registry struct {
	sensors  domain.SensorStore
	readings domain.ReadingStore
	clock    domain.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRegistry creates a Registry. A nil clock means the real clock.
func NewRegistry(sensors domain.SensorStore, readings domain.ReadingStore, clock domain.Clock, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		sensors:  sensors,
		readings: readings,
		clock:    domain.ClockOrReal(clock),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register creates a sensor in state OK with no readings.
func (r *Registry) Register(ctx context.Context, id domain.SensorID, face domain.Face) (domain.Sensor, error) {
	sensor, err := domain.NewSensor(id, face)
	if err != nil {
		return domain.Sensor{}, err
	}
	if err := r.sensors.Insert(ctx, sensor); err != nil {
		return domain.Sensor{}, fmt.Errorf("register sensor %d: %w", id, err)
	}
	r.metrics.SensorsRegistered.Inc()
	r.logger.Info("sensor registered", "sensor_id", int(id), "face", face.String())
	return sensor, nil
}

// Details returns the sensor record.
func (r *Registry) Details(ctx context.Context, id domain.SensorID) (domain.Sensor, error) {
	if err := id.Validate(); err != nil {
		return domain.Sensor{}, err
	}
	return r.sensors.Get(ctx, id)
}

// List returns every sensor matching the filter in ascending id order.
func (r *Registry) List(ctx context.Context, filter domain.StateFilter) ([]domain.Sensor, error) {
	return r.sensors.ListByState(ctx, filter)
}

// ListByFace returns the ids of the face's sensors matching the filter, ascending.
func (r *Registry) ListByFace(ctx context.Context, face domain.Face, filter domain.StateFilter) ([]domain.SensorID, error) {
	if !face.Valid() {
		return nil, fmt.Errorf("%w: sensor face %s", domain.ErrInvalidInput, face)
	}
	return r.sensors.ListByFace(ctx, face, filter)
}

// Remove deletes the sensor's readings and then the sensor itself.
func (r *Registry) Remove(ctx context.Context, id domain.SensorID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, err := r.sensors.Get(ctx, id); err != nil {
		return err
	}
	if err := r.readings.DeleteAllForSensor(ctx, id); err != nil {
		return fmt.Errorf("remove sensor %d: %w", id, err)
	}
	if err := r.sensors.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove sensor %d: %w", id, err)
	}
	r.metrics.SensorsRemoved.Inc()
	r.logger.Info("sensor removed", "sensor_id", int(id))
	return nil
}

// Ingest validates and stores a reading, then advances the sensor's last
// update. A zero timestamp is replaced with the current time and timestamps
// more than MaxClockSkew ahead of it are rejected. Readings for unknown
// sensors fail with domain.ErrNotFound and readings for faulty sensors with
// domain.ErrSensorDisabled.
func (r *Registry) Ingest(ctx context.Context, source Source, reading domain.Reading) (domain.Reading, error) {
	now := r.clock.Now()
	if reading.Timestamp.IsZero() {
		reading.Timestamp = now
	}
	reading.Timestamp = reading.Timestamp.UTC().Truncate(time.Second)

	if err := reading.Validate(); err != nil {
		r.reject("invalid")
		return domain.Reading{}, err
	}
	if reading.Timestamp.After(now.Add(MaxClockSkew)) {
		r.reject("invalid")
		return domain.Reading{}, fmt.Errorf("%w: reading timestamp %d is ahead of server time %d",
			domain.ErrInvalidInput, reading.Timestamp.Unix(), now.Unix())
	}

	// Append checks the sensor's state together with the insert.
	if err := r.readings.Append(ctx, reading); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.reject("not_found")
		case errors.Is(err, domain.ErrSensorDisabled):
			r.reject("disabled")
		}
		return domain.Reading{}, fmt.Errorf("store reading for sensor %d: %w", reading.SensorID, err)
	}
	if err := r.sensors.TouchLastUpdate(ctx, reading.SensorID, reading.Timestamp); err != nil {
		return domain.Reading{}, fmt.Errorf("touch sensor %d: %w", reading.SensorID, err)
	}

	r.metrics.ReadingsIngested.WithLabelValues(string(source)).Inc()
	r.logger.Debug("reading ingested",
		"sensor_id", int(reading.SensorID),
		"temperature", reading.Temperature,
		"timestamp", reading.Timestamp.Unix(),
		"source", string(source),
	)
	return reading, nil
}

// Readings returns the sensor's readings, newest first.
func (r *Registry) Readings(ctx context.Context, id domain.SensorID) ([]domain.Reading, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.sensors.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.readings.ListForSensor(ctx, id)
}

// ResetReadings deletes every stored reading. Sensor records are kept.
func (r *Registry) ResetReadings(ctx context.Context) error {
	if err := r.readings.DeleteAll(ctx); err != nil {
		return fmt.Errorf("reset readings: %w", err)
	}
	r.logger.Warn("all readings deleted")
	return nil
}

func (r *Registry) reject(reason string) {
	r.metrics.ReadingsRejected.WithLabelValues(reason).Inc()
}
