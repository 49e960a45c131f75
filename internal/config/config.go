// Package config handles configuration loading from a YAML file and
// environment variables. Precedence: environment variables > config file >
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "2s" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Collection CollectionConfig `yaml:"collection"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the HTTP/websocket listen settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the metric store settings.
type DatabaseConfig struct {
	Path          string   `yaml:"path"`
	FlushInterval Duration `yaml:"flush_interval"`
	QueueCapacity int      `yaml:"queue_capacity"`
	Retention     Duration `yaml:"retention"`
}

// CollectionConfig holds the snapshot collector settings.
type CollectionConfig struct {
	Interval       Duration `yaml:"interval"`
	EnqueueTimeout Duration `yaml:"enqueue_timeout"`
	DenseTicks     int      `yaml:"dense_ticks"`      // ticks of dense static-info delivery at startup
	RarePeriod     int      `yaml:"rare_period"`      // static info repeated every N ticks afterwards
	ProcessPeriod  int      `yaml:"process_period"`   // top/GPU process listing every N ticks
	TopProcesses   int      `yaml:"top_processes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:          "telemetry.db",
			FlushInterval: Duration{time.Second},
			QueueCapacity: 64,
			Retention:     Duration{7 * 24 * time.Hour},
		},
		Collection: CollectionConfig{
			Interval:       Duration{2 * time.Second},
			EnqueueTimeout: Duration{500 * time.Millisecond},
			DenseTicks:     10,
			RarePeriod:     15,
			ProcessPeriod:  5,
			TopProcesses:   5,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads configuration from a YAML file and merges with defaults. A
// missing file is not an error: defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// variables have the highest precedence.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("TA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if path := os.Getenv("TA_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if level := os.Getenv("TA_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks that the configuration can run the agent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Collection.Interval.Duration <= 0 {
		return fmt.Errorf("collection interval must be positive")
	}
	if c.Collection.EnqueueTimeout.Duration >= c.Collection.Interval.Duration {
		return fmt.Errorf("enqueue timeout must be shorter than the collection interval")
	}
	if c.Database.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if c.Collection.RarePeriod <= 0 || c.Collection.ProcessPeriod <= 0 {
		return fmt.Errorf("rare/process periods must be positive")
	}
	return nil
}
