// Package config loads the hub's YAML configuration.
//
// The file is optional; Default supplies every value. Command-line flags
// override the file (see internal/cli).
//
//	database: entsync.db
//	manifests: ./manifests
//	log_level: info
//	engine:
//	  batch_size: 50
//	  settle: 10ms
//	  max_wait: 50ms
//	  degradation_budget: 5
//	  retry_initial: 250ms
//	  retry_max: 30s
//	metrics:
//	  listen: ":9464"
//	connections:
//	  obs:
//	    command: ["obs-module", "--stdio"]
//	    timeout: 5s
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"gopkg.in/yaml.v3"

	"github.com/roach88/entsync/internal/engine"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the hub configuration.
type Config struct {
	// Database is the SQLite entity store path.
	Database string `yaml:"database"`

	// Manifests is the directory of CUE connection manifests.
	Manifests string `yaml:"manifests"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Engine  EngineConfig  `yaml:"engine"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Connections configures out-of-process modules by connection id.
	// Connections without an entry run against the built-in module.
	Connections map[string]ConnectionConfig `yaml:"connections"`
}

// EngineConfig tunes every sync engine.
type EngineConfig struct {
	BatchSize         int      `yaml:"batch_size"`
	Settle            Duration `yaml:"settle"`
	MaxWait           Duration `yaml:"max_wait"`
	DegradationBudget int      `yaml:"degradation_budget"`
	RetryInitial      Duration `yaml:"retry_initial"`
	RetryMax          Duration `yaml:"retry_max"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// ConnectionConfig describes a module process speaking CBOR frames on
// its stdin and stdout.
type ConnectionConfig struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: "entsync.db",
		LogLevel: "info",
		Engine: EngineConfig{
			BatchSize:         engine.DefaultBatchSize,
			Settle:            Duration(10 * time.Millisecond),
			MaxWait:           Duration(50 * time.Millisecond),
			DegradationBudget: engine.DefaultDegradationBudget,
			RetryInitial:      Duration(250 * time.Millisecond),
			RetryMax:          Duration(30 * time.Second),
		},
	}
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database: must not be empty"))
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: %q is not one of %s", c.LogLevel, strings.Join(logLevels, ", ")))
	}
	if c.Engine.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.batch_size: must be positive, got %d", c.Engine.BatchSize))
	}
	if c.Engine.Settle < 0 || c.Engine.MaxWait < 0 {
		errs = append(errs, errors.New("engine: settle and max_wait must not be negative"))
	}
	if c.Engine.MaxWait < c.Engine.Settle {
		errs = append(errs, fmt.Errorf("engine.max_wait: %s is shorter than settle %s", c.Engine.MaxWait.Std(), c.Engine.Settle.Std()))
	}
	if c.Engine.DegradationBudget < 0 {
		errs = append(errs, fmt.Errorf("engine.degradation_budget: must not be negative, got %d", c.Engine.DegradationBudget))
	}
	if c.Engine.RetryInitial <= 0 || c.Engine.RetryMax < c.Engine.RetryInitial {
		errs = append(errs, errors.New("engine: retry_initial must be positive and not above retry_max"))
	}
	for id, conn := range c.Connections {
		if len(conn.Command) == 0 || conn.Command[0] == "" {
			errs = append(errs, fmt.Errorf("connections.%s.command: must not be empty", id))
		}
		if conn.Timeout < 0 {
			errs = append(errs, fmt.Errorf("connections.%s.timeout: must not be negative", id))
		}
	}
	return errors.Join(errs...)
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EngineOptions converts the engine section into engine options.
func (c *Config) EngineOptions() []engine.EngineOption {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.Engine.RetryInitial.Std()
	retry.MaxInterval = c.Engine.RetryMax.Std()
	retry.MaxElapsedTime = 0

	return []engine.EngineOption{
		engine.WithBatchSize(c.Engine.BatchSize),
		engine.WithDebounce(c.Engine.Settle.Std(), c.Engine.MaxWait.Std()),
		engine.WithDegradationBudget(c.Engine.DegradationBudget),
		engine.WithRetryBackoff(retry),
	}
}
