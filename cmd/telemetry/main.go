package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchcryptid/sensor-telemetry/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/sensor-telemetry/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-telemetry/internal/adapter/memory"
	"github.com/couchcryptid/sensor-telemetry/internal/adapter/postgres"
	"github.com/couchcryptid/sensor-telemetry/internal/config"
	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/observability"
	"github.com/couchcryptid/sensor-telemetry/internal/pipeline"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
)

// store is the combined persistence port the service runs on.
type store interface {
	domain.SensorStore
	domain.ReadingStore
}

// readiness reports ready when the store answers and, with Kafka enabled,
// the ingestion pipeline has processed a batch.
type readiness struct {
	store    store
	pipeline *pipeline.Pipeline
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if r.pipeline != nil {
		return r.pipeline.CheckReadiness(ctx)
	}
	return nil
}

var _ sharedobs.ReadinessChecker = readiness{}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("database close error", "error", err)
			}
		}()
	}

	clock := clockwork.NewRealClock()

	// A nil interface disables anomaly publishing; never pass a typed nil.
	var publisher telemetry.AnomalyPublisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
	}

	registry := telemetry.NewRegistry(st, st, clock, logger, metrics)
	engine := telemetry.NewEngine(st, st)
	detector := telemetry.NewDetector(engine, st, st, publisher, clock, logger, metrics)
	reporter := telemetry.NewReporter(engine, st, clock, cfg.ReportLocation, cfg.ReportMaxHours, logger, metrics)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" error", "error", err)
			}
		}()
	}

	ready := readiness{store: st}
	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New(reader, pipeline.NewTransformer(), pipeline.NewLoader(registry, logger), logger, metrics, cfg.BatchSize)
		ready.pipeline = p
		run("pipeline", p.Run)
		logger.Info("kafka ingestion enabled",
			"brokers", cfg.KafkaBrokers,
			"readings_topic", cfg.KafkaReadingsTopic,
			"anomalies_topic", cfg.KafkaAnomaliesTopic,
		)
	} else {
		logger.Info("kafka ingestion disabled")
	}

	run("reaper", telemetry.NewReaper(st, cfg.Retention, cfg.ReaperInterval, clock, logger, metrics).Run)
	if cfg.FaultScanInterval > 0 {
		run("fault watcher", telemetry.NewFaultWatcher(detector, cfg.FaultStaleAfter, cfg.FaultScanInterval, clock, logger).Run)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Services{
		Registry: registry,
		Engine:   engine,
		Detector: detector,
		Reporter: reporter,
	}, ready, httpadapter.Options{
		RequestTimeout:  cfg.RequestTimeout,
		FaultStaleAfter: cfg.FaultStaleAfter,
	}, logger, metrics)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// openStore returns the configured store. The *sql.DB is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, *sql.DB, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), nil, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("postgres store ready")
	return postgres.NewStore(db), db, nil
}
