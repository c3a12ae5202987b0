package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ParseReadingMessage deserializes a RawEvent's value into a validated Reading.
// A payload without a timestamp takes the broker timestamp of the message.
func ParseReadingMessage(raw RawEvent) (Reading, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return Reading{}, fmt.Errorf("%w: parse reading: %v", ErrInvalidInput, err)
	}
	if msg.SensorID == nil {
		return Reading{}, fmt.Errorf("%w: reading without sensorId", ErrInvalidInput)
	}
	if msg.Temperature == nil {
		return Reading{}, fmt.Errorf("%w: reading without temperature", ErrInvalidInput)
	}

	ts := raw.Timestamp.UTC()
	if msg.Timestamp != nil && *msg.Timestamp > 0 {
		ts = time.Unix(*msg.Timestamp, 0).UTC()
	}

	r := Reading{
		SensorID:    SensorID(*msg.SensorID),
		Timestamp:   ts.Truncate(time.Second),
		Temperature: *msg.Temperature,
	}
	if err := r.Validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// NewFaultyEvent builds the anomaly event for a stale sensor.
func NewFaultyEvent(s FaultySensor, detectedAt time.Time) AnomalyEvent {
	return AnomalyEvent{
		ID:         generateAnomalyID(AnomalyFaulty, s.ID, detectedAt),
		Kind:       AnomalyFaulty,
		SensorID:   s.ID,
		Face:       s.Face,
		LastUpdate: unixOrZero(s.LastUpdate),
		DetectedAt: detectedAt.UTC(),
	}
}

// NewDeviatedEvent builds the anomaly event for an outlier sensor.
func NewDeviatedEvent(face Face, s DeviatedSensor, detectedAt time.Time) AnomalyEvent {
	avg, faceAvg := s.Average, s.FaceAverage
	return AnomalyEvent{
		ID:          generateAnomalyID(AnomalyDeviated, s.ID, detectedAt),
		Kind:        AnomalyDeviated,
		SensorID:    s.ID,
		Face:        face,
		Average:     &avg,
		FaceAverage: &faceAvg,
		DetectedAt:  detectedAt.UTC(),
	}
}

// SerializeAnomalyEvent marshals an AnomalyEvent into an OutputEvent keyed by sensor.
func SerializeAnomalyEvent(event AnomalyEvent) (OutputEvent, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize anomaly event: %w", err)
	}
	return OutputEvent{
		Key:   []byte(fmt.Sprintf("%d", event.SensorID)),
		Value: data,
		Headers: map[string]string{
			"kind":        string(event.Kind),
			"detected_at": event.DetectedAt.Format(time.RFC3339),
		},
	}, nil
}

// generateAnomalyID hashes kind|sensor|minute so that a scan re-run within
// the same minute yields the same id and downstream consumers can dedupe.
func generateAnomalyID(kind AnomalyKind, id SensorID, at time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", kind, id, at.UTC().Truncate(time.Minute).Unix())))
	return fmt.Sprintf("%s-%s", kind, hex.EncodeToString(h[:8]))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
