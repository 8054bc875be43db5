// Package config provides configuration loading and validation for scrubd.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the deletion pipeline.
type Config struct {
	RequestStore  RequestStoreConfig  `yaml:"requestStore"`
	Columnar      ColumnarConfig      `yaml:"columnar"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// RequestStoreConfig configures the relational store holding deletion requests.
type RequestStoreConfig struct {
	DSN string `yaml:"dsn" env:"SCRUB_REQUEST_STORE_DSN"`
}

// ColumnarConfig configures the columnar store the mutations run against.
type ColumnarConfig struct {
	// Driver selects the executor implementation. "sqlite" runs the
	// embedded engine; it is the only driver shipped in-tree.
	Driver string `yaml:"driver" env:"SCRUB_COLUMNAR_DRIVER"`
	// Path is the database path for the embedded engine.
	Path string `yaml:"path" env:"SCRUB_COLUMNAR_PATH"`
}

// PipelineConfig configures deletion and verification behavior.
type PipelineConfig struct {
	// EventsTable is the primary fact table mutations run against.
	EventsTable string `yaml:"eventsTable" env:"SCRUB_EVENTS_TABLE"`

	// CohortTable is the cohort membership table.
	CohortTable string `yaml:"cohortTable" env:"SCRUB_COHORT_TABLE"`

	// SatelliteTables is the fixed, ordered list of tenant-scoped tables
	// swept on a tenant-wide deletion, in addition to the fact table.
	SatelliteTables []string `yaml:"satelliteTables"`

	// CustomVerifyTimeoutSeconds caps the execution time of a single
	// custom-predicate verification scan.
	CustomVerifyTimeoutSeconds int `yaml:"customVerifyTimeoutSeconds" env:"SCRUB_CUSTOM_VERIFY_TIMEOUT_SECONDS"`

	// MarkBatchSize is the chunk size for batched delete_verified_at updates.
	MarkBatchSize int `yaml:"markBatchSize" env:"SCRUB_MARK_BATCH_SIZE"`
}

// SchedulerConfig configures the cron cadences for the two pipeline passes.
type SchedulerConfig struct {
	// ProcessSpec is the cron spec for the mutation-issuing pass.
	ProcessSpec string `yaml:"processSpec" env:"SCRUB_PROCESS_SPEC"`
	// VerifySpec is the cron spec for the verification pass. Verification
	// runs on a looser cadence than processing.
	VerifySpec string `yaml:"verifySpec" env:"SCRUB_VERIFY_SPEC"`
	// BacklogScanIntervalMs is the interval for the unverified-backlog
	// metrics scan in milliseconds.
	BacklogScanIntervalMs int64 `yaml:"backlogScanIntervalMs" env:"SCRUB_BACKLOG_SCAN_INTERVAL_MS"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"SCRUB_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"SCRUB_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"SCRUB_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		RequestStore: RequestStoreConfig{
			DSN: "postgres://localhost:5432/scrub",
		},
		Columnar: ColumnarConfig{
			Driver: "sqlite",
			Path:   "scrub.db",
		},
		Pipeline: PipelineConfig{
			EventsTable: "events",
			CohortTable: "cohort_memberships",
			SatelliteTables: []string{
				"person_distinct_ids",
				"persons",
				"group_records",
				"ingestion_warnings",
			},
			CustomVerifyTimeoutSeconds: 30,
			MarkBatchSize:              500,
		},
		Scheduler: SchedulerConfig{
			ProcessSpec:           "@every 1h",
			VerifySpec:            "@every 6h",
			BacklogScanIntervalMs: 300000, // 5 minutes
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default configuration with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a YAML file, layered over defaults,
// with environment overrides applied last.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Pipeline.EventsTable == "" {
		return fmt.Errorf("config: pipeline.eventsTable must not be empty")
	}
	if c.Pipeline.CohortTable == "" {
		return fmt.Errorf("config: pipeline.cohortTable must not be empty")
	}
	if c.Pipeline.CustomVerifyTimeoutSeconds <= 0 {
		return fmt.Errorf("config: pipeline.customVerifyTimeoutSeconds must be positive, got %d", c.Pipeline.CustomVerifyTimeoutSeconds)
	}
	if c.Pipeline.MarkBatchSize <= 0 {
		return fmt.Errorf("config: pipeline.markBatchSize must be positive, got %d", c.Pipeline.MarkBatchSize)
	}
	if c.Scheduler.ProcessSpec == "" || c.Scheduler.VerifySpec == "" {
		return fmt.Errorf("config: scheduler cron specs must not be empty")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString(&c.RequestStore.DSN, "SCRUB_REQUEST_STORE_DSN")
	setString(&c.Columnar.Driver, "SCRUB_COLUMNAR_DRIVER")
	setString(&c.Columnar.Path, "SCRUB_COLUMNAR_PATH")
	setString(&c.Pipeline.EventsTable, "SCRUB_EVENTS_TABLE")
	setString(&c.Pipeline.CohortTable, "SCRUB_COHORT_TABLE")
	setInt(&c.Pipeline.CustomVerifyTimeoutSeconds, "SCRUB_CUSTOM_VERIFY_TIMEOUT_SECONDS")
	setInt(&c.Pipeline.MarkBatchSize, "SCRUB_MARK_BATCH_SIZE")
	setString(&c.Scheduler.ProcessSpec, "SCRUB_PROCESS_SPEC")
	setString(&c.Scheduler.VerifySpec, "SCRUB_VERIFY_SPEC")
	setInt64(&c.Scheduler.BacklogScanIntervalMs, "SCRUB_BACKLOG_SCAN_INTERVAL_MS")
	setString(&c.Observability.MetricsAddr, "SCRUB_METRICS_ADDR")
	setString(&c.Observability.LogLevel, "SCRUB_LOG_LEVEL")
	setString(&c.Observability.LogFormat, "SCRUB_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
