// Package memory is an in-process implementation of the sensor and reading
// stores, used by tests and by STORE_DRIVER=memory for local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
)

// Store implements domain.SensorStore and domain.ReadingStore behind one lock,
// so every method is atomic with respect to the others.
type Store struct {
	mu       sync.RWMutex
	sensors  map[domain.SensorID]domain.Sensor
	readings map[domain.SensorID][]domain.Reading
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		sensors:  make(map[domain.SensorID]domain.Sensor),
		readings: make(map[domain.SensorID][]domain.Reading),
	}
}

var (
	_ domain.SensorStore  = (*Store)(nil)
	_ domain.ReadingStore = (*Store)(nil)
)

// Insert stores a new sensor.
func (s *Store) Insert(_ context.Context, sensor domain.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sensors[sensor.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.sensors[sensor.ID] = sensor
	return nil
}

// Get loads a sensor by id.
func (s *Store) Get(_ context.Context, id domain.SensorID) (domain.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sensor, ok := s.sensors[id]
	if !ok {
		return domain.Sensor{}, domain.ErrNotFound
	}
	return sensor, nil
}

// Delete removes a sensor record. Readings are removed separately.
func (s *Store) Delete(_ context.Context, id domain.SensorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sensors[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.sensors, id)
	return nil
}

func (s *Store) SetState(_ context.Context, id domain.SensorID, state domain.State) error {
	return s.update(id, func(sensor *domain.Sensor) { sensor.State = state })
}

func (s *Store) SetOutlier(_ context.Context, id domain.SensorID, outlier bool) error {
	return s.update(id, func(sensor *domain.Sensor) { sensor.Outlier = outlier })
}

func (s *Store) TouchLastUpdate(_ context.Context, id domain.SensorID, at time.Time) error {
	return s.update(id, func(sensor *domain.Sensor) {
		if at.After(sensor.LastUpdate) {
			sensor.LastUpdate = at.UTC().Truncate(time.Second)
		}
	})
}

func (s *Store) update(id domain.SensorID, fn func(*domain.Sensor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sensor, ok := s.sensors[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&sensor)
	s.sensors[id] = sensor
	return nil
}

// ListByFace returns matching ids in ascending order.
func (s *Store) ListByFace(_ context.Context, face domain.Face, filter domain.StateFilter) ([]domain.SensorID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []domain.SensorID
	for id, sensor := range s.sensors {
		if sensor.Face == face && filter.Match(sensor.State) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListByState returns matching sensors in ascending id order.
func (s *Store) ListByState(_ context.Context, filter domain.StateFilter) ([]domain.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Sensor
	for _, sensor := range s.sensors {
		if filter.Match(sensor.State) {
			out = append(out, sensor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkStale flips stale OK sensors to Faulty.
func (s *Store) MarkStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for id, sensor := range s.sensors {
		if sensor.State == domain.StateOK && sensor.LastUpdateUnix() < cutoff.Unix() {
			sensor.State = domain.StateFaulty
			s.sensors[id] = sensor
			changed++
		}
	}
	return changed, nil
}

// ReplaceOutliers recomputes the outlier flag for the face's OK sensors.
func (s *Store) ReplaceOutliers(_ context.Context, face domain.Face, outliers []domain.SensorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sensor := range s.sensors {
		if sensor.Face != face || sensor.State != domain.StateOK {
			continue
		}
		sensor.Outlier = slices.Contains(outliers, id)
		s.sensors[id] = sensor
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Append adds a reading for a registered OK sensor.
func (s *Store) Append(_ context.Context, r domain.Reading) error {
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	sensor, ok := s.sensors[r.SensorID]
	if !ok {
		return domain.ErrNotFound
	}
	if !sensor.State.OK() {
		return fmt.Errorf("sensor %d: %w", r.SensorID, domain.ErrSensorDisabled)
	}
	s.readings[r.SensorID] = append(s.readings[r.SensorID], r)
	return nil
}

func (s *Store) AverageInWindow(ctx context.Context, id domain.SensorID, w domain.Window) (float64, bool, error) {
	return s.AverageInWindowForSensors(ctx, []domain.SensorID{id}, w)
}

func (s *Store) AverageInWindowForSensors(_ context.Context, ids []domain.SensorID, w domain.Window) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	var n int
	for _, id := range ids {
		for _, r := range s.readings[id] {
			if w.Contains(r.Timestamp) {
				sum += r.Temperature
				n++
			}
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

func (s *Store) EarliestTimestamp(context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var earliest time.Time
	found := false
	for _, rs := range s.readings {
		for _, r := range rs {
			if !found || r.Timestamp.Before(earliest) {
				earliest = r.Timestamp
				found = true
			}
		}
	}
	return earliest, found, nil
}

// ListForSensor returns readings newest first.
func (s *Store) ListForSensor(_ context.Context, id domain.SensorID) ([]domain.Reading, error) {
	s.mu.RLock()
	out := slices.Clone(s.readings[id])
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *Store) DeleteAllForSensor(_ context.Context, id domain.SensorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readings, id)
	return nil
}

func (s *Store) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = make(map[domain.SensorID][]domain.Reading)
	return nil
}

func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, rs := range s.readings {
		kept := rs[:0]
		for _, r := range rs {
			if r.Timestamp.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.readings, id)
			continue
		}
		s.readings[id] = kept
	}
	return purged, nil
}
