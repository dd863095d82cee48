package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	Loki   LokiConfig `yaml:"loki"`
}

// RefreshConfig controls how often the console re-validates its caches.
// A zero interval disables the corresponding task.
type RefreshConfig struct {
	Interval Duration `yaml:"interval"`
	Health   Duration `yaml:"health"`
	Nodes    Duration `yaml:"nodes"`
	Shards   Duration `yaml:"shards"`
	Metrics  Duration `yaml:"metrics"`
}

// Config is the root configuration structure for the console.
type Config struct {
	Coordinator    string        `yaml:"coordinator"`
	Listen         string        `yaml:"listen"`
	RequestTimeout Duration      `yaml:"request_timeout"`
	TimeScale      string        `yaml:"time_scale"`
	Refresh        RefreshConfig `yaml:"refresh"`
	Logging        LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Coordinator:    "http://127.0.0.1:8080",
		Listen:         ":9090",
		RequestTimeout: Duration{30 * time.Second},
		TimeScale:      "10 min",
		Refresh: RefreshConfig{
			Interval: Duration{time.Second},
			Health:   Duration{2 * time.Second},
			Nodes:    Duration{10 * time.Second},
			Shards:   Duration{10 * time.Second},
			Metrics:  Duration{10 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads and decodes the configuration file from disk. Keys missing from
// the file keep their Default values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document on top of Default.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Coordinator == "" {
		return nil, fmt.Errorf("coordinator address is required")
	}
	return cfg, nil
}

// RequestTimeoutOrDefault returns the default exchange timeout.
func (c *Config) RequestTimeoutOrDefault() time.Duration {
	if c == nil || c.RequestTimeout.Duration <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout.Duration
}

// TickInterval returns the scheduler tick.
func (c *Config) TickInterval() time.Duration {
	if c == nil || c.Refresh.Interval.Duration <= 0 {
		return time.Second
	}
	return c.Refresh.Interval.Duration
}
