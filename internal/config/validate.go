package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// At least one test path is required (unless -check)
	if len(cfg.Tests) == 0 && !cfg.Check {
		errs = append(errs, ValidationError{
			Field:   "tests",
			Message: "at least one test executable path is required",
		})
	}

	// Timeout must be positive
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		})
	}

	// Worker count must be positive
	if cfg.MaxParallel < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_parallel",
			Message: "must be at least 1",
		})
	}

	// Working directory must be set (existence is a preflight concern)
	if cfg.WorkDir == "" {
		errs = append(errs, ValidationError{
			Field:   "work_dir",
			Message: "must not be empty",
		})
	}

	// Env overrides must be KEY=VALUE
	for _, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, ValidationError{
				Field:   "env",
				Message: fmt.Sprintf("must be KEY=VALUE (got %q)", kv),
			})
		}
	}

	// ShowOutput must be valid
	validShow := map[string]bool{"failed": true, "all": true, "none": true}
	if !validShow[cfg.ShowOutput] {
		errs = append(errs, ValidationError{
			Field:   "show_output",
			Message: fmt.Sprintf("must be one of: failed, all, none (got %q)", cfg.ShowOutput),
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
