package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StoreDriver     string
	DatabaseURL     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	// Retention and background scans.
	Retention         time.Duration
	ReaperInterval    time.Duration
	FaultScanInterval time.Duration // 0 disables the fault watcher
	FaultStaleAfter   time.Duration

	// Reports.
	ReportLocation *time.Location
	ReportMaxHours int

	// Kafka ingestion and anomaly publishing.
	KafkaEnabled        bool
	KafkaBrokers        []string
	KafkaReadingsTopic  string
	KafkaAnomaliesTopic string
	KafkaGroupID        string
	BatchSize           int
	BatchFlushInterval  time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	requestTimeout, err := parsePositiveDuration("REQUEST_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	retention, err := parsePositiveDuration("RETENTION", "24h")
	if err != nil {
		return nil, err
	}
	reaperInterval, err := parsePositiveDuration("REAPER_INTERVAL", "10m")
	if err != nil {
		return nil, err
	}
	staleAfter, err := parsePositiveDuration("FAULT_STALE_AFTER", "1h")
	if err != nil {
		return nil, err
	}
	faultInterval, err := parseFaultScanInterval()
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(sharedcfg.EnvOrDefault("REPORT_TIMEZONE", "UTC"))
	if err != nil {
		return nil, errors.New("invalid REPORT_TIMEZONE")
	}

	maxHours, err := parseReportMaxHours()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StoreDriver:     sharedcfg.EnvOrDefault("STORE_DRIVER", DriverPostgres),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		RequestTimeout:  requestTimeout,

		Retention:         retention,
		ReaperInterval:    reaperInterval,
		FaultScanInterval: faultInterval,
		FaultStaleAfter:   staleAfter,

		ReportLocation: loc,
		ReportMaxHours: maxHours,

		KafkaEnabled:        os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:        sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaReadingsTopic:  sharedcfg.EnvOrDefault("KAFKA_READINGS_TOPIC", "sensor-readings"),
		KafkaAnomaliesTopic: sharedcfg.EnvOrDefault("KAFKA_ANOMALIES_TOPIC", "sensor-anomalies"),
		KafkaGroupID:        sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "sensor-telemetry"),
		BatchSize:           batchSize,
		BatchFlushInterval:  flushInterval,
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: must be postgres or memory", cfg.StoreDriver)
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaReadingsTopic == "" {
			return nil, errors.New("KAFKA_READINGS_TOPIC is required")
		}
		if cfg.KafkaAnomaliesTopic == "" {
			return nil, errors.New("KAFKA_ANOMALIES_TOPIC is required")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

// parseFaultScanInterval allows "0" to turn the periodic fault scan off.
func parseFaultScanInterval() (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault("FAULT_SCAN_INTERVAL", "0"))
	if err != nil || d < 0 {
		return 0, errors.New("invalid FAULT_SCAN_INTERVAL")
	}
	return d, nil
}

func parseReportMaxHours() (int, error) {
	s := os.Getenv("REPORT_MAX_HOURS")
	if s == "" {
		return 744, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("invalid REPORT_MAX_HOURS: must be a positive integer")
	}
	return n, nil
}
