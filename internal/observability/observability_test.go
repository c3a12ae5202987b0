package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestTextHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTextHandler(&buf, "warn"))

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown", "sensor_id", 10001)
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "10001")
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.ReadingsIngested))
	for _, c := range m.collectors()[1:] {
		require.NoError(t, reg.Register(c))
	}

	m.ReadingsIngested.WithLabelValues("http").Inc()
	m.ReadingsIngested.WithLabelValues("http").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "sensor_telemetry_readings_ingested_total" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		assert.InDelta(t, 2, mf.GetMetric()[0].GetCounter().GetValue(), 0)
	}
	assert.True(t, found)
}
