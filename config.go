package autoact

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is a serialisable representation of the engine configuration. It
// can be populated from YAML, JSON or flags; the zero value inherits every
// package default.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Processor ProcessorConfig `json:"processor" yaml:"processor"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Policy    PolicyConfig    `json:"policy" yaml:"policy"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// DatabaseConfig selects the storage backend. An empty path keeps the
// in-memory stores.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" validate:"omitempty,filepath"`
}

// ProcessorConfig holds the worker pool settings.
type ProcessorConfig struct {
	Workers int `json:"workers" yaml:"workers" validate:"omitempty,gte=1,lte=256"`
}

// QueueConfig holds the in-process durable queue settings.
type QueueConfig struct {
	MaxRetries int           `json:"maxRetries" yaml:"maxRetries" validate:"omitempty,gte=0"`
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay"`
}

// PolicyConfig toggles automatic decisioning.
type PolicyConfig struct {
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// TelemetryConfig configures tracing output.
type TelemetryConfig struct {
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	TraceFile   string `json:"traceFile" yaml:"traceFile"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{Workers: 5},
		Queue:     QueueConfig{MaxRetries: 3, RetryDelay: 100 * time.Millisecond},
		Telemetry: TelemetryConfig{ServiceName: "autoact"},
	}
}

// Validate reports invalid settings.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
