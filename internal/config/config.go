// Package config loads bridge settings from YAML with environment overrides.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvThreads     = "NCNNBRIDGE_THREADS"
	EnvLogLevel    = "NCNNBRIDGE_LOG_LEVEL"
	EnvLogFormat   = "NCNNBRIDGE_LOG_FORMAT"
	EnvMetricsAddr = "NCNNBRIDGE_METRICS_ADDR"
)

// Config holds runtime settings.
type Config struct {
	// NumThreads is the engine thread count used by each built layer.
	NumThreads int `yaml:"num_threads"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	CompressArtifacts bool `yaml:"compress_artifacts"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		NumThreads: 2,
		LogLevel:   "info",
		LogFormat:  "console",
	}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.NumThreads < 1 {
		return errors.Errorf("num_threads must be positive, got %d", c.NumThreads)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvThreads); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvThreads)
		}
		c.NumThreads = n
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		c.LogFormat = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	return nil
}
