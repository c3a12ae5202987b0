// Package postgres stores sensors and temperature readings in PostgreSQL
// through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultSensorsTable  = "sensors"
	defaultReadingsTable = "temperatures"

	// foreignKeyViolation is raised when a reading references a sensor that
	// was removed between the eligibility check and the insert.
	foreignKeyViolation = "23503"
)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("postgres: nil db")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store implements domain.SensorStore and domain.ReadingStore.
type Store struct {
	db            *sql.DB
	sensorsTable  string
	readingsTable string
}

// Option configures the store.
type Option func(*Store)

// WithTables overrides the default table names.
func WithTables(sensors, readings string) Option {
	return func(s *Store) {
		if sensors != "" {
			s.sensorsTable = sensors
		}
		if readings != "" {
			s.readingsTable = readings
		}
	}
}

// NewStore constructs a store with default table names.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, sensorsTable: defaultSensorsTable, readingsTable: defaultReadingsTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ domain.SensorStore  = (*Store)(nil)
	_ domain.ReadingStore = (*Store)(nil)
)

// Ping reports whether the database is reachable. Used for readiness.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres: nil db")
	}
	return s.db.PingContext(ctx)
}

// CheckReadiness implements the readiness checker used by /readyz.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.Ping(ctx)
}

func (s *Store) check() error {
	if s == nil || s.db == nil {
		return errors.New("postgres: nil db")
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func sensorIDs(ids []domain.SensorID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
