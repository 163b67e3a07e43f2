package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if c.Trust.RootsDir == "" {
		errs = append(errs, ValidationError{
			Field:   "trust.roots_dir",
			Message: "attestation root directory is required",
		})
	}

	if c.Checkpoint.IntervalSec <= 0 {
		errs = append(errs, ValidationError{
			Field:   "checkpoint.interval_sec",
			Message: "must be positive",
		})
	}
	if c.Checkpoint.SkewToleranceSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "checkpoint.skew_tolerance_sec",
			Message: "must not be negative",
		})
	}

	if c.Depth.TimeoutMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "depth.timeout_ms",
			Message: "must be positive",
		})
	}

	errs = append(errs, validateScoring(&c.Scoring)...)

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "storage.path",
				Message: "required for sqlite storage",
			})
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("unknown type %q (want sqlite or memory)", c.Storage.Type),
		})
	}

	if c.Intake.Enabled {
		if c.Depth.RelayDir == "" {
			errs = append(errs, ValidationError{
				Field:   "depth.relay_dir",
				Message: "required when intake is enabled",
			})
		}
		if c.Intake.SpoolDir == "" {
			errs = append(errs, ValidationError{
				Field:   "intake.spool_dir",
				Message: "required when intake is enabled",
			})
		}
		if c.Intake.ResultDir == "" {
			errs = append(errs, ValidationError{
				Field:   "intake.result_dir",
				Message: "required when intake is enabled",
			})
		}
		if c.Intake.Workers <= 0 {
			errs = append(errs, ValidationError{
				Field:   "intake.workers",
				Message: "must be positive",
			})
		}
	}

	if _, err := parseLevelName(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: err.Error(),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateScoring(s *ScoringConfig) ValidationErrors {
	var errs ValidationErrors

	checkRange := func(field string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%v outside [0, 1]", v),
			})
		}
	}
	checkRange("scoring.depth_high", s.DepthHigh)
	checkRange("scoring.depth_medium", s.DepthMedium)
	checkRange("scoring.depth_hash_only", s.DepthHashOnly)

	if s.DepthMedium > s.DepthHigh {
		errs = append(errs, ValidationError{
			Field:   "scoring.depth_medium",
			Message: "must not exceed scoring.depth_high",
		})
	}
	if s.MaxGapsMedium < 0 {
		errs = append(errs, ValidationError{
			Field:   "scoring.max_gaps_medium",
			Message: "must not be negative",
		})
	}
	return errs
}

func parseLevelName(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "debug", "info", "warn", "warning", "error":
		return strings.ToLower(s), nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}
