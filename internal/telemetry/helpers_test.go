package telemetry_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/adapter/memory"
	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// wednesday is 2024-04-24 15:10 UTC; the previous calendar week starts on
// Sunday 2024-04-14.
var wednesday = time.Date(2024, time.April, 24, 15, 10, 0, 0, time.UTC)

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.AnomalyEvent
	err    error
}

func (p *fakePublisher) PublishAnomalies(_ context.Context, events []domain.AnomalyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *fakePublisher) published() []domain.AnomalyEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AnomalyEvent(nil), p.events...)
}

type fixture struct {
	store     *memory.Store
	clock     *clockwork.FakeClock
	logger    *slog.Logger
	metrics   *observability.Metrics
	registry  *telemetry.Registry
	engine    *telemetry.Engine
	detector  *telemetry.Detector
	reporter  *telemetry.Reporter
	publisher *fakePublisher
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(),
		clock:     clockwork.NewFakeClockAt(now),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   observability.NewMetricsForTesting(),
		publisher: &fakePublisher{},
	}
	f.registry = telemetry.NewRegistry(f.store, f.store, f.clock, f.logger, f.metrics)
	f.engine = telemetry.NewEngine(f.store, f.store)
	f.detector = telemetry.NewDetector(f.engine, f.store, f.store, f.publisher, f.clock, f.logger, f.metrics)
	f.reporter = telemetry.NewReporter(f.engine, f.store, f.clock, time.UTC, 48, f.logger, f.metrics)
	return f
}

func (f *fixture) register(t *testing.T, id domain.SensorID, face domain.Face) {
	t.Helper()
	_, err := f.registry.Register(context.Background(), id, face)
	require.NoError(t, err)
}

func (f *fixture) ingest(t *testing.T, id domain.SensorID, at time.Time, temps ...float64) {
	t.Helper()
	for i, temp := range temps {
		_, err := f.registry.Ingest(context.Background(), telemetry.SourceHTTP, domain.Reading{
			SensorID:    id,
			Timestamp:   at.Add(time.Duration(i) * time.Second),
			Temperature: temp,
		})
		require.NoError(t, err)
	}
}

func hourWindow(start time.Time) domain.Window {
	return domain.Window{Start: start, Length: time.Hour}
}
