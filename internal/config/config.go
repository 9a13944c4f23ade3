// Package config holds service configuration for the autonomy core: storage
// paths, execution limits, approval TTL, and the ambient logging/metrics
// settings.
package config

import (
	"time"
)

// Config is the main Steward configuration
type Config struct {
	// Data directory for SQLite databases
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Execution settings
	Execution ExecutionConfig `json:"execution" mapstructure:"execution"`

	// Approval workflow settings
	Approvals ApprovalsConfig `json:"approvals" mapstructure:"approvals"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ExecutionConfig bounds tool body execution
type ExecutionConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the execution timeout as a duration
func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ApprovalsConfig controls the approval workflow
type ApprovalsConfig struct {
	TTLHours       int    `json:"ttl_hours" mapstructure:"ttl_hours"`
	ReaperSchedule string `json:"reaper_schedule" mapstructure:"reaper_schedule"` // cron expression
}

// TTL returns the approval time-to-live as a duration
func (a ApprovalsConfig) TTL() time.Duration {
	return time.Duration(a.TTLHours) * time.Hour
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "",
		Execution: ExecutionConfig{
			TimeoutSeconds: 30,
		},
		Approvals: ApprovalsConfig{
			TTLHours:       4,
			ReaperSchedule: "*/10 * * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9102",
		},
	}
}
