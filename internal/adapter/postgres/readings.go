package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
)

// Append stores a reading if the sensor is registered and OK. The sensor row
// is share-locked for the insert, serializing it against MarkStale.
func (s *Store) Append(ctx context.Context, r domain.Reading) error {
	if err := s.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (sensor_id, ts, temperature)
SELECT sensor_id, $2::BIGINT, $3::DOUBLE PRECISION FROM %s
WHERE sensor_id = $1 AND state_ok
FOR SHARE`, s.readingsTable, s.sensorsTable)

	res, err := s.db.ExecContext(ctx, query, int64(r.SensorID), r.Timestamp.Unix(), r.Temperature)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("append reading for sensor %d: %w", r.SensorID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, r.SensorID); err != nil {
		return err
	}
	return fmt.Errorf("sensor %d: %w", r.SensorID, domain.ErrSensorDisabled)
}

func (s *Store) AverageInWindow(ctx context.Context, id domain.SensorID, w domain.Window) (float64, bool, error) {
	return s.AverageInWindowForSensors(ctx, []domain.SensorID{id}, w)
}

// AverageInWindowForSensors averages all matching readings as one population.
// AVG over zero rows is NULL, reported as ok=false.
func (s *Store) AverageInWindowForSensors(ctx context.Context, ids []domain.SensorID, w domain.Window) (float64, bool, error) {
	if err := s.check(); err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	query := fmt.Sprintf(`
SELECT AVG(temperature)
FROM %s
WHERE sensor_id = ANY($1) AND ts >= $2 AND ts < $3`, s.readingsTable)

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, sensorIDs(ids), w.Start.Unix(), w.End().Unix()).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("average readings: %w", err)
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

func (s *Store) EarliestTimestamp(ctx context.Context) (time.Time, bool, error) {
	if err := s.check(); err != nil {
		return time.Time{}, false, err
	}
	query := fmt.Sprintf(`SELECT MIN(ts) FROM %s`, s.readingsTable)

	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("earliest reading: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

// ListForSensor returns readings newest first.
func (s *Store) ListForSensor(ctx context.Context, id domain.SensorID) ([]domain.Reading, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT ts, temperature
FROM %s
WHERE sensor_id = $1
ORDER BY ts DESC, id DESC`, s.readingsTable)

	rows, err := s.db.QueryContext(ctx, query, int64(id))
	if err != nil {
		return nil, fmt.Errorf("list readings for sensor %d: %w", id, err)
	}
	defer rows.Close()

	var result []domain.Reading
	for rows.Next() {
		var (
			ts   int64
			temp float64
		)
		if err := rows.Scan(&ts, &temp); err != nil {
			return nil, err
		}
		result = append(result, domain.Reading{
			SensorID:    id,
			Timestamp:   time.Unix(ts, 0).UTC(),
			Temperature: temp,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteAllForSensor(ctx context.Context, id domain.SensorID) error {
	if err := s.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE sensor_id = $1`, s.readingsTable)
	if _, err := s.db.ExecContext(ctx, query, int64(id)); err != nil {
		return fmt.Errorf("delete readings for sensor %d: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.readingsTable)); err != nil {
		return fmt.Errorf("delete all readings: %w", err)
	}
	return nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, s.readingsTable)
	res, err := s.db.ExecContext(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge readings: %w", err)
	}
	return res.RowsAffected()
}
