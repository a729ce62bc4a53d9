// Package config loads engine configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DatabaseConfig selects and parameterizes the checkpoint-store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WorkerConfig bounds concurrent job execution.
type WorkerConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	PollInterval Duration `yaml:"poll_interval"`
	StaleAfter   Duration `yaml:"stale_after"`
	// SweepCron optionally replaces the default stale-lease sweep interval
	// with a cron expression.
	SweepCron string `yaml:"sweep_cron"`
}

// MemoryConfig sets tracker thresholds. The critical threshold is always
// 1.1x the warning threshold.
type MemoryConfig struct {
	WarnMB      int `yaml:"warn_mb"`
	HistorySize int `yaml:"history_size"`
}

// ServerConfig configures the admin/observability HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Memory   MemoryConfig   `yaml:"memory"`
	// Pools maps component name to max pool size.
	Pools  map[string]int `yaml:"pools"`
	Server ServerConfig   `yaml:"server"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "pipeline.db"},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: Duration(500 * time.Millisecond),
			StaleAfter:   Duration(10 * time.Minute),
		},
		Memory: MemoryConfig{WarnMB: 2048, HistorySize: 256},
		Pools:  map[string]int{"embedder": 2, "classifier": 2},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads configuration from path (when non-empty), layered over
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv layers PIPELINE_* environment variables over the config.
func applyEnv(cfg *Config) {
	cfg.Database.Driver = getEnv("PIPELINE_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("PIPELINE_DB_DSN", cfg.Database.DSN)
	cfg.Server.Addr = getEnv("PIPELINE_SERVER_ADDR", cfg.Server.Addr)
	cfg.Worker.Concurrency = getEnvInt("PIPELINE_WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Memory.WarnMB = getEnvInt("PIPELINE_MEMORY_WARN_MB", cfg.Memory.WarnMB)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
