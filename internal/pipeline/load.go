package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
)

// Ingester accepts one reading at a time. *telemetry.Registry satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, source telemetry.Source, reading domain.Reading) (domain.Reading, error)
}

// IngestLoader implements BatchLoader on top of the sensor registry.
type IngestLoader struct {
	ingester Ingester
	logger   *slog.Logger
}

// NewLoader creates an IngestLoader.
func NewLoader(ingester Ingester, logger *slog.Logger) *IngestLoader {
	return &IngestLoader{ingester: ingester, logger: logger}
}

// LoadBatch ingests readings in order. Readings for unknown or faulty sensors
// and invalid readings are dropped with a warning; any other failure aborts
// the batch so its offsets stay uncommitted.
func (l *IngestLoader) LoadBatch(ctx context.Context, readings []domain.Reading) error {
	for _, r := range readings {
		_, err := l.ingester.Ingest(ctx, telemetry.SourceKafka, r)
		switch {
		case err == nil:
		case isRejection(err):
			l.logger.Warn("reading rejected",
				"error", err,
				"sensor_id", int(r.SensorID),
				"timestamp", r.Timestamp.Unix(),
			)
		default:
			return err
		}
	}
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrSensorDisabled)
}
