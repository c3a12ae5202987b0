package httpadapter

import (
	"github.com/couchcryptid/sensor-telemetry/internal/domain"
)

type registerSensorRequest struct {
	SensorID   *int `json:"sensorId"`
	SensorFace *int `json:"sensorFace"`
}

type sensorResponse struct {
	SensorID   int    `json:"sensorId"`
	SensorFace int    `json:"sensorFace"`
	State      string `json:"sensorState"`
	Outlier    bool   `json:"isSensorOutlier"`
	LastUpdate int64  `json:"sensorLastUpdate"`
}

func toSensorResponse(s domain.Sensor) sensorResponse {
	return sensorResponse{
		SensorID:   int(s.ID),
		SensorFace: s.Face.Code(),
		State:      s.State.String(),
		Outlier:    s.Outlier,
		LastUpdate: s.LastUpdateUnix(),
	}
}

type readingResponse struct {
	SensorID    int     `json:"sensorId"`
	Temperature float64 `json:"temperature"`
	Timestamp   int64   `json:"timestamp"`
}

func toReadingResponse(r domain.Reading) readingResponse {
	return readingResponse{
		SensorID:    int(r.SensorID),
		Temperature: r.Temperature,
		Timestamp:   r.Timestamp.Unix(),
	}
}

// aggregateResponse carries a null average when the window holds no readings.
type aggregateResponse struct {
	Average *float64 `json:"average"`
}

type faultyResponse struct {
	SensorID   int   `json:"sensorId"`
	SensorFace int   `json:"sensorFace"`
	LastUpdate int64 `json:"sensorLastUpdate"`
}

type deviatedResponse struct {
	SensorID    int     `json:"sensorId"`
	Average     float64 `json:"averageValue"`
	FaceAverage float64 `json:"faceAverageValue"`
}

type errorResponse struct {
	Error string `json:"error"`
}
