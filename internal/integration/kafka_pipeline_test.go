//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-telemetry/internal/adapter/memory"
	"github.com/couchcryptid/sensor-telemetry/internal/config"
	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
	"github.com/couchcryptid/sensor-telemetry/internal/pipeline"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testReadingsTopic  = "test-readings"
	testAnomaliesTopic = "test-anomalies"
)

// publishedAnomaly holds a deserialized message read from the anomalies topic.
type publishedAnomaly struct {
	Event   domain.AnomalyEvent
	Key     string
	Headers map[string]string
}

// readAnomaly reads a single message from the anomalies consumer and deserializes it.
func readAnomaly(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedAnomaly {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from anomalies topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event domain.AnomalyEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal anomaly message")

	return publishedAnomaly{Event: event, Key: string(msg.Key), Headers: headers}
}

func readingMessage(t *testing.T, id int, temp float64, ts int64) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(domain.ReadingMessage{SensorID: &id, Temperature: &temp, Timestamp: &ts})
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(fmt.Sprint(id)), Value: payload, Time: time.Unix(ts, 0)}
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:        []string{broker},
		KafkaReadingsTopic:  testReadingsTopic,
		KafkaAnomaliesTopic: testAnomaliesTopic,
		KafkaGroupID:        fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval:  5 * time.Second,
	}
}

// TestKafkaReaderRoundTrip verifies kafka.Reader hands back the published
// payload with a working commit callback.
func TestKafkaReaderRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testReadingsTopic)
	cfg := testConfig(broker, "test-reader")

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testReadingsTopic}
	t.Cleanup(func() { _ = producer.Close() })
	msg := readingMessage(t, 10001, 21.5, base.Unix())
	require.NoError(t, producer.WriteMessages(ctx, msg))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from readings topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("10001"), raw.Key)
	assert.Equal(t, msg.Value, raw.Value)
	assert.Equal(t, testReadingsTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	reading, err := pipeline.NewTransformer().Transform(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, domain.SensorID(10001), reading.SensorID)
	assert.Equal(t, 21.5, reading.Temperature)
	assert.Equal(t, base.Unix(), reading.Timestamp.Unix())
}

// TestPipelineIngestsReadings wires Reader, Transformer and IngestLoader to a
// registry and checks that valid readings land while poison pills and
// readings for unknown sensors are skipped.
func TestPipelineIngestsReadings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testReadingsTopic)
	cfg := testConfig(broker, "test-pipeline")

	store := memory.NewStore()
	metrics := observability.NewMetricsForTesting()
	registry := telemetry.NewRegistry(store, store, clockwork.NewFakeClockAt(base), discardLogger(), metrics)
	for _, id := range []domain.SensorID{10001, 10002} {
		_, err := registry.Register(ctx, id, domain.West)
		require.NoError(t, err)
	}

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testReadingsTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{"), Time: base},
		readingMessage(t, 10001, 20, base.Unix()-120),
		readingMessage(t, 10099, 99, base.Unix()-110),
		readingMessage(t, 10002, 24, base.Unix()-100),
		readingMessage(t, 10001, 22, base.Unix()-60),
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	p := pipeline.New(reader, pipeline.NewTransformer(), pipeline.NewLoader(registry, discardLogger()), discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	require.Eventually(t, func() bool {
		r1, err1 := registry.Readings(ctx, 10001)
		r2, err2 := registry.Readings(ctx, 10002)
		return err1 == nil && err2 == nil && len(r1) == 2 && len(r2) == 1
	}, 60*time.Second, 200*time.Millisecond, "readings were not ingested")

	pipelineCancel()
	require.NoError(t, <-errCh)
	assert.True(t, p.Ready())

	sensor, err := registry.Details(ctx, 10001)
	require.NoError(t, err)
	assert.Equal(t, base.Unix()-60, sensor.LastUpdateUnix())

	avg, ok, err := telemetry.NewEngine(store, store).AggregateByFace(ctx, domain.West, domain.Window{Start: base.Add(-time.Hour), Length: time.Hour})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 22.0, avg, 1e-9)
}

// TestDetectorPublishesAnomalies runs both scans with kafka.Writer as the
// publisher and reads the events back from the anomalies topic.
func TestDetectorPublishesAnomalies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testAnomaliesTopic)
	cfg := testConfig(broker, "test-anomalies")

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(base)
	metrics := observability.NewMetricsForTesting()
	registry := telemetry.NewRegistry(store, store, clock, discardLogger(), metrics)
	engine := telemetry.NewEngine(store, store)
	detector := telemetry.NewDetector(engine, store, store, writer, clock, discardLogger(), metrics)

	for _, id := range []domain.SensorID{10001, 10002, 10003, 10004} {
		_, err := registry.Register(ctx, id, domain.South)
		require.NoError(t, err)
	}
	start := base.Add(-time.Hour)
	for i, temp := range []float64{20, 20, 20, 30} {
		_, err := registry.Ingest(ctx, telemetry.SourceKafka, domain.Reading{
			SensorID:    domain.SensorID(10001 + i),
			Timestamp:   start.Add(time.Duration(i) * time.Minute),
			Temperature: temp,
		})
		require.NoError(t, err)
	}

	deviated, err := detector.ScanDeviated(ctx, domain.South, domain.Window{Start: start, Length: time.Hour})
	require.NoError(t, err)
	require.Len(t, deviated, 1)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testAnomaliesTopic,
		GroupID:     fmt.Sprintf("test-anomaly-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	got := readAnomaly(ctx, t, consumer)
	assert.Equal(t, "10004", got.Key)
	assert.Equal(t, "deviated", got.Headers["kind"])
	_, err = time.Parse(time.RFC3339, got.Headers["detected_at"])
	assert.NoError(t, err, "detected_at should be valid RFC3339")
	assert.Equal(t, domain.AnomalyDeviated, got.Event.Kind)
	assert.Equal(t, domain.SensorID(10004), got.Event.SensorID)
	assert.Equal(t, domain.South, got.Event.Face)
	require.NotNil(t, got.Event.Average)
	require.NotNil(t, got.Event.FaceAverage)
	assert.Equal(t, 30.0, *got.Event.Average)
	assert.Equal(t, 22.5, *got.Event.FaceAverage)

	clock.Advance(2 * time.Hour)
	faulty, err := detector.ScanFaulty(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, faulty, 4)

	for i := range faulty {
		got := readAnomaly(ctx, t, consumer)
		assert.Equal(t, "faulty", got.Headers["kind"], "message %d", i)
		assert.Equal(t, domain.AnomalyFaulty, got.Event.Kind)
		assert.NotZero(t, got.Event.LastUpdate)
		assert.Nil(t, got.Event.Average)
	}
}
