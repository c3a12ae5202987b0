package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
)

// DeviationThreshold is the relative distance from the face average above
// which a sensor counts as deviated.
const DeviationThreshold = 0.2

// AnomalyPublisher forwards scan results to downstream consumers.
type AnomalyPublisher interface {
	PublishAnomalies(ctx context.Context, events []domain.AnomalyEvent) error
}

// Detector finds stale and deviating sensors.
type Detector struct {
	engine    *Engine
	sensors   domain.SensorStore
	readings  domain.ReadingStore
	publisher AnomalyPublisher
	clock     domain.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	// faceLocks serializes deviation scans per face.
	faceLocks map[domain.Face]*sync.Mutex
}

// NewDetector creates a Detector. Pass a nil publisher to disable anomaly
// events and a nil clock to use the real clock.
func NewDetector(engine *Engine, sensors domain.SensorStore, readings domain.ReadingStore, publisher AnomalyPublisher, clock domain.Clock, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	locks := make(map[domain.Face]*sync.Mutex, len(domain.Faces))
	for _, f := range domain.Faces {
		locks[f] = &sync.Mutex{}
	}
	return &Detector{
		engine:    engine,
		sensors:   sensors,
		readings:  readings,
		publisher: publisher,
		clock:     domain.ClockOrReal(clock),
		logger:    logger,
		metrics:   metrics,
		faceLocks: locks,
	}
}

// ScanFaulty marks every OK sensor without an accepted reading in the last
// staleAfter as Faulty, then returns all Faulty sensors in ascending id order.
// Sensors that never reported are stale on the first scan.
func (d *Detector) ScanFaulty(ctx context.Context, staleAfter time.Duration) ([]domain.FaultySensor, error) {
	if staleAfter < 0 {
		return nil, fmt.Errorf("%w: stale period %s", domain.ErrInvalidInput, staleAfter)
	}
	start := time.Now()
	now := d.clock.Now()

	flipped, err := d.sensors.MarkStale(ctx, now.Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("scan faulty: %w", err)
	}
	faulty, err := d.sensors.ListByState(ctx, domain.OnlyFaulty)
	if err != nil {
		return nil, fmt.Errorf("scan faulty: %w", err)
	}

	result := make([]domain.FaultySensor, 0, len(faulty))
	for _, s := range faulty {
		result = append(result, domain.FaultySensor{ID: s.ID, Face: s.Face, LastUpdate: s.LastUpdate})
	}

	d.metrics.ScanDuration.WithLabelValues(string(domain.AnomalyFaulty)).Observe(time.Since(start).Seconds())
	d.metrics.FaultySensors.Set(float64(len(result)))
	if flipped > 0 {
		d.logger.Warn("sensors marked faulty", "count", flipped, "stale_after", staleAfter)
	}

	if d.publisher != nil && len(result) > 0 {
		events := make([]domain.AnomalyEvent, 0, len(result))
		for _, s := range result {
			events = append(events, domain.NewFaultyEvent(s, now))
		}
		d.publish(ctx, events)
	}
	return result, nil
}

// ScanDeviated recomputes the outlier flags of the face's OK sensors for w and
// returns the deviated ones in ascending id order. When the face has no
// readings in w, or its average is exactly zero, no sensor is deviated.
func (d *Detector) ScanDeviated(ctx context.Context, face domain.Face, w domain.Window) ([]domain.DeviatedSensor, error) {
	if !face.Valid() {
		return nil, fmt.Errorf("%w: sensor face %s", domain.ErrInvalidInput, face)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	mu := d.faceLocks[face]
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	faceAvg, ok, err := d.engine.AggregateByFace(ctx, face, w)
	if err != nil {
		return nil, fmt.Errorf("scan deviated: %w", err)
	}

	result := []domain.DeviatedSensor{}
	if ok && faceAvg != 0 {
		ids, err := d.sensors.ListByFace(ctx, face, domain.OnlyOK)
		if err != nil {
			return nil, fmt.Errorf("scan deviated: %w", err)
		}
		for _, id := range ids {
			avg, has, err := d.readings.AverageInWindow(ctx, id, w)
			if err != nil {
				return nil, fmt.Errorf("scan deviated: sensor %d: %w", id, err)
			}
			if has && isDeviated(avg, faceAvg) {
				result = append(result, domain.DeviatedSensor{ID: id, Average: avg, FaceAverage: faceAvg})
			}
		}
	}

	outliers := make([]domain.SensorID, len(result))
	for i, s := range result {
		outliers[i] = s.ID
	}
	if err := d.sensors.ReplaceOutliers(ctx, face, outliers); err != nil {
		return nil, fmt.Errorf("scan deviated: %w", err)
	}

	d.metrics.ScanDuration.WithLabelValues(string(domain.AnomalyDeviated)).Observe(time.Since(start).Seconds())
	d.metrics.DeviatedSensors.WithLabelValues(face.String()).Set(float64(len(result)))
	if len(result) > 0 {
		d.logger.Info("deviated sensors found", "face", face.String(), "count", len(result), "face_average", faceAvg)
	}

	if d.publisher != nil && len(result) > 0 {
		now := d.clock.Now()
		events := make([]domain.AnomalyEvent, 0, len(result))
		for _, s := range result {
			events = append(events, domain.NewDeviatedEvent(face, s, now))
		}
		d.publish(ctx, events)
	}
	return result, nil
}

// publish never fails the scan; the flags are already persisted.
func (d *Detector) publish(ctx context.Context, events []domain.AnomalyEvent) {
	if err := d.publisher.PublishAnomalies(ctx, events); err != nil {
		d.logger.Error("publish anomalies failed", "error", err, "count", len(events))
		return
	}
	d.metrics.AnomaliesPublished.Add(float64(len(events)))
}

// isDeviated compares strictly, so a sensor exactly at the threshold is not deviated.
func isDeviated(sensorAvg, faceAvg float64) bool {
	if faceAvg == 0 {
		return false
	}
	return math.Abs(sensorAvg-faceAvg)/math.Abs(faceAvg) > DeviationThreshold
}
