package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	daysPerWeek = 7
	// maxConcurrentAggregates bounds in-flight store queries per report.
	maxConcurrentAggregates = 8
)

// Rollup holds one bucket's per-face averages. Faces without readings are 0.
// All is the sum of the four face values, not their mean.
type Rollup struct {
	North float64 `json:"North"`
	West  float64 `json:"West"`
	East  float64 `json:"East"`
	South float64 `json:"South"`
	All   float64 `json:"All"`
}

// Face returns the value for f.
func (r Rollup) Face(f domain.Face) float64 {
	switch f {
	case domain.North:
		return r.North
	case domain.West:
		return r.West
	case domain.East:
		return r.East
	case domain.South:
		return r.South
	default:
		return 0
	}
}

func (r *Rollup) set(f domain.Face, v float64) {
	switch f {
	case domain.North:
		r.North = v
	case domain.West:
		r.West = v
	case domain.East:
		r.East = v
	case domain.South:
		r.South = v
	}
}

func (r *Rollup) total() {
	r.All = r.North + r.West + r.East + r.South
}

// DayBucket is one day of the weekly report.
type DayBucket struct {
	Day   time.Weekday
	Start time.Time
	Rollup
}

// WeeklyReport covers Sunday through Saturday of the previous calendar week.
type WeeklyReport struct {
	Start time.Time
	Days  []DayBucket
}

// MarshalJSON encodes the report as an object keyed by day name in calendar order.
func (r WeeklyReport) MarshalJSON() ([]byte, error) {
	keys := make([]string, len(r.Days))
	values := make([]Rollup, len(r.Days))
	for i, d := range r.Days {
		keys[i] = d.Day.String()
		values[i] = d.Rollup
	}
	return marshalOrdered(keys, values)
}

// HourBucket is one hour of the hourly report.
type HourBucket struct {
	Start time.Time
	Rollup
}

// HourlyReport holds consecutive one-hour buckets.
type HourlyReport struct {
	Buckets []HourBucket
}

// MarshalJSON encodes the report as an object keyed by the bucket's unix start.
func (r HourlyReport) MarshalJSON() ([]byte, error) {
	keys := make([]string, len(r.Buckets))
	values := make([]Rollup, len(r.Buckets))
	for i, b := range r.Buckets {
		keys[i] = strconv.FormatInt(b.Start.Unix(), 10)
		values[i] = b.Rollup
	}
	return marshalOrdered(keys, values)
}

func marshalOrdered(keys []string, values []Rollup) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Reporter builds per-face rollup reports.
type Reporter struct {
	engine   *Engine
	readings domain.ReadingStore
	clock    domain.Clock
	location *time.Location
	maxHours int
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewReporter creates a Reporter. Weekly day boundaries are taken in loc
// (UTC when nil); hourly reports are capped at maxHours buckets.
func NewReporter(engine *Engine, readings domain.ReadingStore, clock domain.Clock, loc *time.Location, maxHours int, logger *slog.Logger, metrics *observability.Metrics) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{
		engine:   engine,
		readings: readings,
		clock:    domain.ClockOrReal(clock),
		location: loc,
		maxHours: maxHours,
		logger:   logger,
		metrics:  metrics,
	}
}

// LastWeekStart returns 00:00 of the Sunday that begins the week before the
// one containing now.
func LastWeekStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	thisSunday := midnight.AddDate(0, 0, -int(local.Weekday()))
	return thisSunday.AddDate(0, 0, -daysPerWeek)
}

// LastWeek returns seven day buckets for the previous calendar week.
func (r *Reporter) LastWeek(ctx context.Context) (WeeklyReport, error) {
	began := time.Now()
	start := LastWeekStart(r.clock.Now(), r.location)

	windows := make([]domain.Window, daysPerWeek)
	report := WeeklyReport{Start: start, Days: make([]DayBucket, daysPerWeek)}
	for i := range daysPerWeek {
		dayStart := start.AddDate(0, 0, i)
		// AddDate keeps calendar days intact across DST changes.
		windows[i] = domain.Window{Start: dayStart, Length: dayStart.AddDate(0, 0, 1).Sub(dayStart)}
		report.Days[i] = DayBucket{Day: dayStart.Weekday(), Start: dayStart}
	}

	rollups, err := r.rollups(ctx, windows)
	if err != nil {
		return WeeklyReport{}, fmt.Errorf("last week report: %w", err)
	}
	for i := range report.Days {
		report.Days[i].Rollup = rollups[i]
	}

	r.metrics.ReportDuration.WithLabelValues("last_week").Observe(time.Since(began).Seconds())
	return report, nil
}

// Hourly returns one bucket per hour from start, floored to the hour, up to
// and including the current hour. A zero start means the hour of the earliest
// stored reading; with no readings the report is empty.
func (r *Reporter) Hourly(ctx context.Context, start time.Time) (HourlyReport, error) {
	began := time.Now()
	if !start.IsZero() && start.Unix() < 0 {
		return HourlyReport{}, fmt.Errorf("%w: report start %d", domain.ErrInvalidInput, start.Unix())
	}
	if start.IsZero() {
		earliest, ok, err := r.readings.EarliestTimestamp(ctx)
		if err != nil {
			return HourlyReport{}, fmt.Errorf("hourly report: %w", err)
		}
		if !ok {
			return HourlyReport{Buckets: []HourBucket{}}, nil
		}
		start = earliest
	}

	first := time.Unix(start.Unix()-start.Unix()%3600, 0).UTC()
	now := r.clock.Now()
	if !first.Before(now) {
		return HourlyReport{Buckets: []HourBucket{}}, nil
	}
	count := int((now.Sub(first) + time.Hour - 1) / time.Hour)
	if r.maxHours > 0 && count > r.maxHours {
		return HourlyReport{}, fmt.Errorf("%w: hourly report spans %d hours, limit is %d", domain.ErrInvalidInput, count, r.maxHours)
	}

	windows := make([]domain.Window, count)
	report := HourlyReport{Buckets: make([]HourBucket, count)}
	for i := range count {
		bucketStart := first.Add(time.Duration(i) * time.Hour)
		windows[i] = domain.Window{Start: bucketStart, Length: time.Hour}
		report.Buckets[i] = HourBucket{Start: bucketStart}
	}

	rollups, err := r.rollups(ctx, windows)
	if err != nil {
		return HourlyReport{}, fmt.Errorf("hourly report: %w", err)
	}
	for i := range report.Buckets {
		report.Buckets[i].Rollup = rollups[i]
	}

	r.metrics.ReportDuration.WithLabelValues("hourly").Observe(time.Since(began).Seconds())
	r.logger.Debug("hourly report built", "start", first.Unix(), "buckets", count)
	return report, nil
}

// rollups aggregates every face for every window concurrently. Each goroutine
// writes only its own cell, so no locking is needed.
func (r *Reporter) rollups(ctx context.Context, windows []domain.Window) ([]Rollup, error) {
	values := make([][len(domain.Faces)]float64, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAggregates)
	for i, w := range windows {
		for j, face := range domain.Faces {
			g.Go(func() error {
				avg, ok, err := r.engine.AggregateByFace(gctx, face, w)
				if err != nil {
					return err
				}
				if ok {
					values[i][j] = avg
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Rollup, len(windows))
	for i := range windows {
		for j, face := range domain.Faces {
			out[i].set(face, values[i][j])
		}
		out[i].total()
	}
	return out, nil
}
