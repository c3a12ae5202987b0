package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
)

// Reaper enforces reading retention by periodically purging old readings.
type Reaper struct {
	readings  domain.ReadingStore
	retention time.Duration
	interval  time.Duration
	clock     domain.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewReaper creates a Reaper that keeps readings younger than retention,
// checking every interval.
func NewReaper(readings domain.ReadingStore, retention, interval time.Duration, clock domain.Clock, logger *slog.Logger, metrics *observability.Metrics) *Reaper {
	return &Reaper{
		readings:  readings,
		retention: retention,
		interval:  interval,
		clock:     domain.ClockOrReal(clock),
		logger:    logger,
		metrics:   metrics,
	}
}

// Run purges once immediately and then on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("retention reaper started", "retention", r.retention, "interval", r.interval)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("retention purge failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("retention reaper stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// Purge deletes readings older than the retention period.
func (r *Reaper) Purge(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().Add(-r.retention)
	n, err := r.readings.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge readings before %d: %w", cutoff.Unix(), err)
	}
	if n > 0 {
		r.metrics.ReadingsPurged.Add(float64(n))
		r.logger.Info("expired readings purged", "count", n, "cutoff", cutoff.Unix())
	}
	return n, nil
}

// FaultWatcher runs the fault scan on a fixed interval.
type FaultWatcher struct {
	detector   *Detector
	staleAfter time.Duration
	interval   time.Duration
	clock      domain.Clock
	logger     *slog.Logger
}

// NewFaultWatcher creates a FaultWatcher.
func NewFaultWatcher(detector *Detector, staleAfter, interval time.Duration, clock domain.Clock, logger *slog.Logger) *FaultWatcher {
	return &FaultWatcher{
		detector:   detector,
		staleAfter: staleAfter,
		interval:   interval,
		clock:      domain.ClockOrReal(clock),
		logger:     logger,
	}
}

// Run scans on every tick until ctx is cancelled.
func (w *FaultWatcher) Run(ctx context.Context) error {
	w.logger.Info("fault watcher started", "stale_after", w.staleAfter, "interval", w.interval)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("fault watcher stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if _, err := w.detector.ScanFaulty(ctx, w.staleAfter); err != nil && ctx.Err() == nil {
				w.logger.Error("fault scan failed", "error", err)
			}
		}
	}
}
