package domain

import (
	"context"
	"time"
)

// ReadingMessage is the JSON payload published by sensors to the readings topic.
type ReadingMessage struct {
	SensorID    *int     `json:"sensorId"`
	Temperature *float64 `json:"temperature"`
	// Timestamp is optional; the broker timestamp is used when it is absent.
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// RawEvent represents an unprocessed message from the readings topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// AnomalyKind distinguishes the two detector scans.
type AnomalyKind string

const (
	AnomalyFaulty   AnomalyKind = "faulty"
	AnomalyDeviated AnomalyKind = "deviated"
)

// FaultySensor is one row of the stale-sensor scan result.
type FaultySensor struct {
	ID         SensorID
	Face       Face
	LastUpdate time.Time
}

// LastUpdateUnix returns LastUpdate as unix seconds, 0 if never reported.
func (f FaultySensor) LastUpdateUnix() int64 { return unixOrZero(f.LastUpdate) }

// DeviatedSensor is one row of the deviation scan result.
type DeviatedSensor struct {
	ID          SensorID
	Average     float64
	FaceAverage float64
}

// AnomalyEvent is published to the anomalies topic after a scan.
type AnomalyEvent struct {
	ID          string      `json:"id"`
	Kind        AnomalyKind `json:"kind"`
	SensorID    SensorID    `json:"sensorId"`
	Face        Face        `json:"sensorFace"`
	LastUpdate  int64       `json:"sensorLastUpdate,omitempty"`
	Average     *float64    `json:"averageValue,omitempty"`
	FaceAverage *float64    `json:"faceAverageValue,omitempty"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// OutputEvent is the serialized form destined for the anomalies topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
