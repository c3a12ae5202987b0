package telemetry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outlierFlags(t *testing.T, f *fixture, ids ...domain.SensorID) map[domain.SensorID]bool {
	t.Helper()
	flags := make(map[domain.SensorID]bool, len(ids))
	for _, id := range ids {
		s, err := f.registry.Details(context.Background(), id)
		require.NoError(t, err)
		flags[id] = s.Outlier
	}
	return flags
}

func TestDetector_ScanFaulty(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	f.register(t, 10001, domain.North)
	f.register(t, 10002, domain.East)
	f.register(t, 10003, domain.South)
	f.ingest(t, 10001, wednesday.Add(-10*time.Minute), 20)
	f.ingest(t, 10002, wednesday.Add(-2*time.Hour), 20)

	want := []domain.FaultySensor{
		{ID: 10002, Face: domain.East, LastUpdate: wednesday.Add(-2 * time.Hour)},
		{ID: 10003, Face: domain.South},
	}

	first, err := f.detector.ScanFaulty(ctx, time.Hour)
	require.NoError(t, err)
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first scan mismatch (-want +got):\n%s", diff)
	}

	second, err := f.detector.ScanFaulty(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, second, "scan must be idempotent")

	s, err := f.registry.Details(ctx, 10001)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOK, s.State)

	f.clock.Advance(time.Hour)
	third, err := f.detector.ScanFaulty(ctx, time.Hour)
	require.NoError(t, err)
	assert.Len(t, third, 3)

	_, err = f.detector.ScanFaulty(ctx, -time.Second)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDetector_ScanFaulty_PublishesEvents(t *testing.T) {
	f := newFixture(t, wednesday)
	f.register(t, 10001, domain.North)

	_, err := f.detector.ScanFaulty(context.Background(), time.Hour)
	require.NoError(t, err)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.AnomalyFaulty, events[0].Kind)
	assert.Equal(t, domain.SensorID(10001), events[0].SensorID)
	assert.Equal(t, wednesday, events[0].DetectedAt)
}

func TestDetector_ScanFaulty_PublishErrorDoesNotFailScan(t *testing.T) {
	f := newFixture(t, wednesday)
	f.publisher.err = errors.New("broker down")
	f.register(t, 10001, domain.North)

	got, err := f.detector.ScanFaulty(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDetector_ScanDeviated_EndToEnd(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	f.register(t, 10001, domain.North)
	f.register(t, 10002, domain.North)
	start := wednesday.Add(-time.Hour)
	f.ingest(t, 10001, start, 18, 20, 22)
	f.ingest(t, 10002, start, 30)

	got, err := f.detector.ScanDeviated(ctx, domain.North, hourWindow(start))
	require.NoError(t, err)

	want := []domain.DeviatedSensor{{ID: 10002, Average: 30, FaceAverage: 22.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deviated mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[domain.SensorID]bool{10001: false, 10002: true}, outlierFlags(t, f, 10001, 10002))

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.AnomalyDeviated, events[0].Kind)
	assert.Equal(t, domain.North, events[0].Face)
}

func TestDetector_ScanDeviated_ExactThresholdNotFlagged(t *testing.T) {
	f := newFixture(t, wednesday)
	f.register(t, 10001, domain.West)
	f.register(t, 10002, domain.West)
	start := wednesday.Add(-time.Hour)
	// Face average 20; both sensors sit exactly 20% away.
	f.ingest(t, 10001, start, 24)
	f.ingest(t, 10002, start, 16)

	got, err := f.detector.ScanDeviated(context.Background(), domain.West, hourWindow(start))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetector_ScanDeviated_RecomputesFlags(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	f.register(t, 10001, domain.East)
	f.register(t, 10002, domain.East)
	first := wednesday.Add(-2 * time.Hour)
	second := wednesday.Add(-time.Hour)
	f.ingest(t, 10001, first, 10)
	f.ingest(t, 10002, first, 30)
	f.ingest(t, 10001, second, 20)
	f.ingest(t, 10002, second, 20)

	got, err := f.detector.ScanDeviated(ctx, domain.East, hourWindow(first))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, map[domain.SensorID]bool{10001: true, 10002: true}, outlierFlags(t, f, 10001, 10002))

	got, err = f.detector.ScanDeviated(ctx, domain.East, hourWindow(second))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, map[domain.SensorID]bool{10001: false, 10002: false}, outlierFlags(t, f, 10001, 10002))
}

func TestDetector_ScanDeviated_ZeroFaceAverage(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	f.register(t, 10001, domain.South)
	f.register(t, 10002, domain.South)
	start := wednesday.Add(-time.Hour)
	f.ingest(t, 10001, start, 10)
	f.ingest(t, 10002, start, -10)
	require.NoError(t, f.store.SetOutlier(ctx, 10001, true))

	got, err := f.detector.ScanDeviated(ctx, domain.South, hourWindow(start))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, map[domain.SensorID]bool{10001: false, 10002: false}, outlierFlags(t, f, 10001, 10002))
}

func TestDetector_ScanDeviated_NoReadings(t *testing.T) {
	f := newFixture(t, wednesday)
	f.register(t, 10001, domain.North)

	got, err := f.detector.ScanDeviated(context.Background(), domain.North, hourWindow(wednesday))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, f.publisher.published())
}

func TestDetector_ScanDeviated_InvalidInput(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	_, err := f.detector.ScanDeviated(ctx, domain.Face(7), hourWindow(wednesday))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.detector.ScanDeviated(ctx, domain.North, domain.Window{Start: wednesday, Length: -time.Hour})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDetector_ScanDeviated_ConcurrentSameFace(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	f.register(t, 10001, domain.North)
	f.register(t, 10002, domain.North)
	f.register(t, 10003, domain.North)
	a := wednesday.Add(-2 * time.Hour)
	b := wednesday.Add(-time.Hour)
	// Window a flags 10003 only; window b flags 10001 and 10002.
	f.ingest(t, 10001, a, 20)
	f.ingest(t, 10002, a, 20)
	f.ingest(t, 10003, a, 30)
	f.ingest(t, 10001, b, 5)
	f.ingest(t, 10002, b, 35)
	f.ingest(t, 10003, b, 20)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := hourWindow(a)
			if i%2 == 1 {
				w = hourWindow(b)
			}
			_, err := f.detector.ScanDeviated(ctx, domain.North, w)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	flags := outlierFlags(t, f, 10001, 10002, 10003)
	resultA := map[domain.SensorID]bool{10001: false, 10002: false, 10003: true}
	resultB := map[domain.SensorID]bool{10001: true, 10002: true, 10003: false}
	assert.True(t, cmp.Equal(flags, resultA) || cmp.Equal(flags, resultB), "flags are a mixture: %v", flags)
}
