package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for out-of-range values and incomplete preload
// entries. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Gate.Enabled && cfg.Gate.MaxConcurrent <= 0 {
		errs = append(errs, "gate: max_concurrent must be positive when the gate is enabled")
	}
	if cfg.Outbox.QueueCapacity < 1 {
		errs = append(errs, "outbox: queue_capacity must be at least 1")
	}
	if cfg.Outbox.PollIntervalMs < 1 {
		errs = append(errs, "outbox: poll_interval_ms must be at least 1")
	}
	if cfg.Outbox.DrainBurst < 1 {
		errs = append(errs, "outbox: drain_burst must be at least 1")
	}
	if cfg.Registry.ArtifactDir == "" && len(cfg.Registry.Preload) > 0 {
		errs = append(errs, "registry: artifact_dir is required when preload entries are set")
	}
	for i, spec := range cfg.Registry.Preload {
		if spec.Key == "" {
			errs = append(errs, fmt.Sprintf("registry.preload[%d]: key is required", i))
		}
		if spec.Version <= 0 {
			errs = append(errs, fmt.Sprintf("registry.preload[%d]: version must be positive", i))
		}
	}
	if cfg.Debug.MaxConditionEvaluations < 1 {
		errs = append(errs, "debug: max_condition_evaluations must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
