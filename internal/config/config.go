// Package config provides configuration management for go-test-runner.
package config

import "time"

// Config holds all configuration options for the runner.
type Config struct {
	// Execution
	Tests       []string      `json:"tests"` // test executable paths
	Timeout     time.Duration `json:"timeout"`
	Parallel    bool          `json:"parallel"`
	MaxParallel int           `json:"max_parallel"`
	WorkDir     string        `json:"work_dir"`

	// Environment
	Env     []string `json:"env"`      // KEY=VALUE overrides
	EnvFile string   `json:"env_file"` // YAML map of overrides

	// Output
	Capture      bool   `json:"capture"`
	Stream       bool   `json:"stream"`        // forward output lines to the log handler
	IncludeDebug bool   `json:"include_debug"` // keep DEBUG: lines in filtered output
	ShowOutput   string `json:"show_output"`   // failed, all, none

	// Observability
	MetricsAddr    string `json:"metrics_addr"`
	MetricsEnabled bool   `json:"metrics_enabled"`
	TUIEnabled     bool   `json:"tui_enabled"`
	Verbose        bool   `json:"verbose"`
	LogFormat      string `json:"log_format"` // json, text
	LogLevel       string `json:"log_level"`  // debug, info, warn, error

	// Diagnostic modes
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Execution
		Timeout:     30 * time.Second,
		Parallel:    true,
		MaxParallel: 4,
		WorkDir:     ".",

		// Output
		Capture:    true,
		Stream:     false,
		ShowOutput: "failed",

		// Observability
		MetricsAddr:    "127.0.0.1:17092",
		MetricsEnabled: false,
		TUIEnabled:     false,
		Verbose:        false,
		LogFormat:      "json",
		LogLevel:       "info",
	}
}
