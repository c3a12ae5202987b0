package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastWeekStart(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "midweek",
			now:  wednesday,
			loc:  time.UTC,
			want: time.Date(2024, time.April, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday midnight starts a new week",
			now:  time.Date(2024, time.April, 21, 0, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2024, time.April, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "saturday night",
			now:  time.Date(2024, time.April, 27, 23, 59, 59, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2024, time.April, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "already sunday in report timezone",
			now:  time.Date(2024, time.April, 20, 22, 30, 0, 0, time.UTC),
			loc:  madrid,
			want: time.Date(2024, time.April, 14, 0, 0, 0, 0, madrid),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := telemetry.LastWeekStart(tt.now, tt.loc)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestReporter_LastWeek(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	f.register(t, 10001, domain.North)
	f.register(t, 10002, domain.West)
	f.register(t, 10004, domain.South)

	monday := time.Date(2024, time.April, 15, 12, 0, 0, 0, time.UTC)
	f.ingest(t, 10001, monday, 20, 22)
	f.ingest(t, 10004, monday, 10)
	f.ingest(t, 10002, time.Date(2024, time.April, 20, 23, 59, 59, 0, time.UTC), 5)
	// Outside the week on both ends.
	f.ingest(t, 10002, time.Date(2024, time.April, 21, 0, 0, 0, 0, time.UTC), 1000)
	f.ingest(t, 10002, time.Date(2024, time.April, 13, 23, 59, 59, 0, time.UTC), 1000)

	report, err := f.reporter.LastWeek(ctx)
	require.NoError(t, err)

	require.Len(t, report.Days, 7)
	start := time.Date(2024, time.April, 14, 0, 0, 0, 0, time.UTC)
	assert.True(t, start.Equal(report.Start))
	for i, day := range report.Days {
		assert.Equal(t, time.Weekday(i), day.Day)
		assert.True(t, start.AddDate(0, 0, i).Equal(day.Start), "day %d starts at %s", i, day.Start)
	}

	assert.Equal(t, telemetry.Rollup{North: 21, South: 10, All: 31}, report.Days[time.Monday].Rollup)
	assert.Equal(t, telemetry.Rollup{West: 5, All: 5}, report.Days[time.Saturday].Rollup)
	assert.Equal(t, telemetry.Rollup{}, report.Days[time.Sunday].Rollup)

	// All is the sum of the faces, not their mean.
	for _, day := range report.Days {
		assert.InDelta(t, day.North+day.West+day.East+day.South, day.All, 1e-9)
	}
}

func TestReporter_LastWeek_JSON(t *testing.T) {
	f := newFixture(t, wednesday)
	report, err := f.reporter.LastWeek(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]map[string]float64
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 7)
	for day, values := range decoded {
		assert.Len(t, values, 5, day)
		for _, key := range []string{"North", "West", "East", "South", "All"} {
			assert.Contains(t, values, key)
		}
	}

	last := -1
	for d := time.Sunday; d <= time.Saturday; d++ {
		idx := bytes.Index(data, []byte(`"`+d.String()+`"`))
		require.Greater(t, idx, last, "%s out of calendar order", d)
		last = idx
	}
}

func TestReporter_LastWeek_DSTDay(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	f := newFixture(t, time.Date(2024, time.April, 10, 12, 0, 0, 0, time.UTC))
	reporter := telemetry.NewReporter(f.engine, f.store, f.clock, madrid, 48, f.logger, f.metrics)

	report, err := reporter.LastWeek(context.Background())
	require.NoError(t, err)

	// Clocks went forward on Sunday 2024-03-31 in Madrid.
	assert.True(t, time.Date(2024, time.March, 31, 0, 0, 0, 0, madrid).Equal(report.Days[0].Start))
	assert.Equal(t, 23*time.Hour, report.Days[1].Start.Sub(report.Days[0].Start))
	assert.Equal(t, 24*time.Hour, report.Days[2].Start.Sub(report.Days[1].Start))
}

func TestReporter_Hourly(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		report, err := f.reporter.Hourly(ctx, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, report.Buckets)

		data, err := json.Marshal(report)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(data))
	})

	f.register(t, 10001, domain.North)
	f.register(t, 10003, domain.East)
	f.ingest(t, 10001, wednesday.Add(-150*time.Minute), 18) // 12:40
	f.ingest(t, 10001, wednesday.Add(-10*time.Minute), 24)  // 15:00
	f.ingest(t, 10003, wednesday.Add(-10*time.Minute), 6)

	t.Run("defaults to earliest reading", func(t *testing.T) {
		report, err := f.reporter.Hourly(ctx, time.Time{})
		require.NoError(t, err)
		require.Len(t, report.Buckets, 4)

		first := time.Date(2024, time.April, 24, 12, 0, 0, 0, time.UTC)
		for i, b := range report.Buckets {
			assert.True(t, first.Add(time.Duration(i)*time.Hour).Equal(b.Start))
		}
		assert.Equal(t, telemetry.Rollup{North: 18, All: 18}, report.Buckets[0].Rollup)
		assert.Equal(t, telemetry.Rollup{}, report.Buckets[1].Rollup)
		assert.Equal(t, telemetry.Rollup{North: 24, East: 6, All: 30}, report.Buckets[3].Rollup)

		data, err := json.Marshal(report)
		require.NoError(t, err)
		var decoded map[string]telemetry.Rollup
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Len(t, decoded, 4)
		assert.Equal(t, telemetry.Rollup{North: 18, All: 18}, decoded[strconv.FormatInt(first.Unix(), 10)])
	})

	t.Run("explicit start is floored to the hour", func(t *testing.T) {
		report, err := f.reporter.Hourly(ctx, time.Date(2024, time.April, 24, 13, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, report.Buckets, 3)
		assert.Equal(t, 13, report.Buckets[0].Start.Hour())
	})

	t.Run("future start is empty", func(t *testing.T) {
		report, err := f.reporter.Hourly(ctx, wednesday.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, report.Buckets)
	})

	t.Run("range above the limit", func(t *testing.T) {
		_, err := f.reporter.Hourly(ctx, wednesday.Add(-72*time.Hour))
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("negative start", func(t *testing.T) {
		_, err := f.reporter.Hourly(ctx, time.Unix(-3600, 0))
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
