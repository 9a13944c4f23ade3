package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate rejects a config with out-of-range or unparseable values so a bad
// file fails at load time, not mid-request.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Execution.TimeoutSeconds <= 0 {
		return fmt.Errorf("execution.timeout_seconds must be positive, got %d", cfg.Execution.TimeoutSeconds)
	}

	if cfg.Approvals.TTLHours <= 0 {
		return fmt.Errorf("approvals.ttl_hours must be positive, got %d", cfg.Approvals.TTLHours)
	}

	if cfg.Approvals.ReaperSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.Approvals.ReaperSchedule); err != nil {
			return fmt.Errorf("invalid approvals.reaper_schedule %q: %w", cfg.Approvals.ReaperSchedule, err)
		}
	}

	if cfg.Logging.Level != "" && !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}
