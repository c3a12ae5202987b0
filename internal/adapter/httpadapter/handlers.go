package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/adapter/export"
	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleRegisterSensor(w http.ResponseWriter, r *http.Request) {
	var req registerSensorRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SensorID == nil || req.SensorFace == nil {
		s.writeError(w, r, fmt.Errorf("%w: sensorId and sensorFace are required", domain.ErrInvalidInput))
		return
	}
	face, err := domain.ParseFace(*req.SensorFace)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sensor, err := s.services.Registry.Register(r.Context(), domain.SensorID(*req.SensorID), face)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusCreated, toSensorResponse(sensor))
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	var filter domain.StateFilter
	switch state := r.URL.Query().Get("state"); state {
	case "", "all":
		filter = domain.AnyState
	case domain.StateOK.String():
		filter = domain.OnlyOK
	case domain.StateFaulty.String():
		filter = domain.OnlyFaulty
	default:
		s.writeError(w, r, fmt.Errorf("%w: state %q", domain.ErrInvalidInput, state))
		return
	}

	sensors, err := s.services.Registry.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sensorResponse, len(sensors))
	for i, sensor := range sensors {
		out[i] = toSensorResponse(sensor)
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleSensorDetails(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSensorID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sensor, err := s.services.Registry.Details(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, toSensorResponse(sensor))
}

func (s *Server) handleRemoveSensor(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSensorID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.services.Registry.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSensorReadings(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSensorID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	readings, err := s.services.Registry.Readings(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]readingResponse, len(readings))
	for i, reading := range readings {
		out[i] = toReadingResponse(reading)
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	var msg domain.ReadingMessage
	if err := decodeBody(w, r, &msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if msg.SensorID == nil || msg.Temperature == nil {
		s.writeError(w, r, fmt.Errorf("%w: sensorId and temperature are required", domain.ErrInvalidInput))
		return
	}

	reading := domain.Reading{SensorID: domain.SensorID(*msg.SensorID), Temperature: *msg.Temperature}
	if msg.Timestamp != nil && *msg.Timestamp != 0 {
		reading.Timestamp = time.Unix(*msg.Timestamp, 0).UTC()
	}

	stored, err := s.services.Registry.Ingest(r.Context(), telemetry.SourceHTTP, reading)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusCreated, toReadingResponse(stored))
}

func (s *Server) handleResetReadings(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Registry.ResetReadings(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAggregateSensor(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseSensorID(r.URL.Query().Get("sensorId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	avg, ok, err := s.services.Engine.AggregateBySensor(r.Context(), id, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newAggregateResponse(avg, ok))
}

func (s *Server) handleAggregateFace(w http.ResponseWriter, r *http.Request) {
	face, err := queryFace(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	avg, ok, err := s.services.Engine.AggregateByFace(r.Context(), face, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newAggregateResponse(avg, ok))
}

func (s *Server) handleFaulty(w http.ResponseWriter, r *http.Request) {
	staleAfter := s.opts.FaultStaleAfter
	if r.URL.Query().Has("period_duration") {
		seconds, err := queryInt(r, "period_duration")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		staleAfter, err = domain.SecondsToDuration(seconds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	faulty, err := s.services.Detector.ScanFaulty(r.Context(), staleAfter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]faultyResponse, len(faulty))
	for i, f := range faulty {
		out[i] = faultyResponse{SensorID: int(f.ID), SensorFace: f.Face.Code(), LastUpdate: f.LastUpdateUnix()}
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeviated(w http.ResponseWriter, r *http.Request) {
	face, err := queryFace(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	window, err := queryWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	deviated, err := s.services.Detector.ScanDeviated(r.Context(), face, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]deviatedResponse, len(deviated))
	for i, d := range deviated {
		out[i] = deviatedResponse{SensorID: int(d.ID), Average: d.Average, FaceAverage: d.FaceAverage}
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleLastWeekReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if err := validateFormat(format); err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.services.Reporter.LastWeek(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch format {
	case "xlsx":
		s.writeFile(w, r, "last-week.xlsx", export.ContentTypeXLSX, func() ([]byte, error) { return export.WeeklyXLSX(report) })
	case "pdf":
		s.writeFile(w, r, "last-week.pdf", export.ContentTypePDF, func() ([]byte, error) { return export.WeeklyPDF(report) })
	default:
		sharedobs.WriteJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleHourlyReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if err := validateFormat(format); err != nil {
		s.writeError(w, r, err)
		return
	}
	startFrom, err := queryInt(r, "start_from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var start time.Time
	if startFrom != 0 {
		start = time.Unix(startFrom, 0).UTC()
	}

	report, err := s.services.Reporter.Hourly(r.Context(), start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch format {
	case "xlsx":
		s.writeFile(w, r, "hourly.xlsx", export.ContentTypeXLSX, func() ([]byte, error) { return export.HourlyXLSX(report) })
	case "pdf":
		s.writeFile(w, r, "hourly.pdf", export.ContentTypePDF, func() ([]byte, error) { return export.HourlyPDF(report) })
	default:
		sharedobs.WriteJSON(w, http.StatusOK, report)
	}
}

func (s *Server) writeFile(w http.ResponseWriter, r *http.Request, name, contentType string, render func() ([]byte, error)) {
	data, err := render()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and gets logged; the client only sees a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrSensorDisabled):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r.Context()),
			"error", err,
		)
		msg = http.StatusText(status)
	}
	sharedobs.WriteJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// queryInt parses an integer query parameter; a missing parameter is 0.
func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", domain.ErrInvalidInput, key, raw)
	}
	return n, nil
}

func queryWindow(r *http.Request) (domain.Window, error) {
	start, err := queryInt(r, "start_from")
	if err != nil {
		return domain.Window{}, err
	}
	period, err := queryInt(r, "period")
	if err != nil {
		return domain.Window{}, err
	}
	return domain.NewWindow(start, period)
}

func queryFace(r *http.Request) (domain.Face, error) {
	raw := r.URL.Query().Get("sensorFace")
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: sensorFace %q", domain.ErrInvalidInput, raw)
	}
	return domain.ParseFace(code)
}

func validateFormat(format string) error {
	switch format {
	case "", "json", "xlsx", "pdf":
		return nil
	default:
		return fmt.Errorf("%w: format %q", domain.ErrInvalidInput, format)
	}
}

func newAggregateResponse(avg float64, ok bool) aggregateResponse {
	if !ok {
		return aggregateResponse{}
	}
	return aggregateResponse{Average: &avg}
}
