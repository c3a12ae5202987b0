package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
)

// Insert stores a new sensor, returning domain.ErrAlreadyExists on duplicates.
func (s *Store) Insert(ctx context.Context, sensor domain.Sensor) error {
	if err := s.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (sensor_id, sensor_face, state_ok, is_outlier, last_update)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (sensor_id) DO NOTHING`, s.sensorsTable)

	res, err := s.db.ExecContext(ctx, query,
		int64(sensor.ID),
		sensor.Face.Code(),
		sensor.State.OK(),
		sensor.Outlier,
		sensor.LastUpdateUnix(),
	)
	if err != nil {
		return fmt.Errorf("insert sensor %d: %w", sensor.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert sensor %d: %w", sensor.ID, err)
	}
	if n == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Get loads a sensor by id.
func (s *Store) Get(ctx context.Context, id domain.SensorID) (domain.Sensor, error) {
	if err := s.check(); err != nil {
		return domain.Sensor{}, err
	}
	query := fmt.Sprintf(`
SELECT sensor_id, sensor_face, state_ok, is_outlier, last_update
FROM %s
WHERE sensor_id = $1`, s.sensorsTable)

	sensor, err := scanSensor(s.db.QueryRowContext(ctx, query, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sensor{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Sensor{}, fmt.Errorf("get sensor %d: %w", id, err)
	}
	return sensor, nil
}

// Delete removes the sensor; readings go with it through ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id domain.SensorID) error {
	if err := s.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE sensor_id = $1`, s.sensorsTable)
	res, err := s.db.ExecContext(ctx, query, int64(id))
	if err != nil {
		return fmt.Errorf("delete sensor %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(res)
}

func (s *Store) SetState(ctx context.Context, id domain.SensorID, state domain.State) error {
	return s.execByID(ctx, fmt.Sprintf(`UPDATE %s SET state_ok = $2 WHERE sensor_id = $1`, s.sensorsTable), id, state.OK())
}

func (s *Store) SetOutlier(ctx context.Context, id domain.SensorID, outlier bool) error {
	return s.execByID(ctx, fmt.Sprintf(`UPDATE %s SET is_outlier = $2 WHERE sensor_id = $1`, s.sensorsTable), id, outlier)
}

func (s *Store) TouchLastUpdate(ctx context.Context, id domain.SensorID, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_update = GREATEST(last_update, $2) WHERE sensor_id = $1`, s.sensorsTable)
	return s.execByID(ctx, query, id, at.Unix())
}

func (s *Store) execByID(ctx context.Context, query string, id domain.SensorID, value any) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, int64(id), value)
	if err != nil {
		return fmt.Errorf("update sensor %d: %w", id, err)
	}
	return rowsAffectedOrNotFound(res)
}

// ListByFace returns matching ids in ascending order.
func (s *Store) ListByFace(ctx context.Context, face domain.Face, filter domain.StateFilter) ([]domain.SensorID, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT sensor_id
FROM %s
WHERE sensor_face = $1 AND ($2::boolean IS NULL OR state_ok = $2)
ORDER BY sensor_id ASC`, s.sensorsTable)

	rows, err := s.db.QueryContext(ctx, query, face.Code(), stateArg(filter))
	if err != nil {
		return nil, fmt.Errorf("list sensors by face %s: %w", face, err)
	}
	defer rows.Close()

	var ids []domain.SensorID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.SensorID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListByState returns matching sensors in ascending id order.
func (s *Store) ListByState(ctx context.Context, filter domain.StateFilter) ([]domain.Sensor, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT sensor_id, sensor_face, state_ok, is_outlier, last_update
FROM %s
WHERE ($1::boolean IS NULL OR state_ok = $1)
ORDER BY sensor_id ASC`, s.sensorsTable)

	rows, err := s.db.QueryContext(ctx, query, stateArg(filter))
	if err != nil {
		return nil, fmt.Errorf("list sensors by state: %w", err)
	}
	defer rows.Close()

	var result []domain.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sensor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkStale flips stale OK sensors to Faulty in a single statement.
func (s *Store) MarkStale(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`UPDATE %s SET state_ok = FALSE WHERE state_ok AND last_update < $1`, s.sensorsTable)
	res, err := s.db.ExecContext(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("mark stale sensors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ReplaceOutliers clears and sets the face's outlier flags in one statement,
// so concurrent scans of the same face never leave a mixed result.
func (s *Store) ReplaceOutliers(ctx context.Context, face domain.Face, outliers []domain.SensorID) error {
	if err := s.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET is_outlier = (sensor_id = ANY($2))
WHERE sensor_face = $1 AND state_ok`, s.sensorsTable)

	if _, err := s.db.ExecContext(ctx, query, face.Code(), sensorIDs(outliers)); err != nil {
		return fmt.Errorf("replace outliers for face %s: %w", face, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(row rowScanner) (domain.Sensor, error) {
	var (
		id         int64
		faceCode   int
		stateOK    bool
		outlier    bool
		lastUpdate int64
	)
	if err := row.Scan(&id, &faceCode, &stateOK, &outlier, &lastUpdate); err != nil {
		return domain.Sensor{}, err
	}
	face, err := domain.ParseFace(faceCode)
	if err != nil {
		return domain.Sensor{}, fmt.Errorf("sensor %d: %w", id, err)
	}
	return domain.Sensor{
		ID:         domain.SensorID(id),
		Face:       face,
		State:      domain.StateFromOK(stateOK),
		Outlier:    outlier,
		LastUpdate: domain.UnixOrZero(lastUpdate),
	}, nil
}

// stateArg maps a filter to a nullable boolean; NULL matches every state.
func stateArg(filter domain.StateFilter) sql.NullBool {
	switch filter {
	case domain.OnlyOK:
		return sql.NullBool{Bool: true, Valid: true}
	case domain.OnlyFaulty:
		return sql.NullBool{Bool: false, Valid: true}
	default:
		return sql.NullBool{}
	}
}
