package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// envList is a custom flag type for repeatable -env flags.
type envList []string

func (e *envList) String() string {
	return strings.Join(*e, ", ")
}

func (e *envList) Set(value string) error {
	*e = append(*e, value)
	return nil
}

// ParseFlags parses command-line flags and returns a Config.
// Positional arguments are test executable paths.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()
	var env envList

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-test-runner - test executable runner with supervision and timeouts

Usage:
  go-test-runner [flags] <TEST_BINARY>...

Execution Flags:
`)
		// Print flags by category
		printFlagCategory([]string{"timeout", "parallel", "max-parallel", "work-dir"})

		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		printFlagCategory([]string{"env", "env-file"})

		fmt.Fprintf(os.Stderr, "\nOutput:\n")
		printFlagCategory([]string{"capture", "stream", "include-debug", "show-output"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "metrics-addr", "tui", "v", "log-format", "log-level"})

		fmt.Fprintf(os.Stderr, "\nSafety & Diagnostics:\n")
		printFlagCategory([]string{"check", "skip-preflight"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Run two test binaries sequentially
  go-test-runner -parallel=false ./build/test_math ./build/test_io

  # Run a directory of tests with 8 workers and a 2 minute timeout
  go-test-runner -max-parallel 8 -timeout 2m ./build/test_*

  # Validate configuration and limits without running anything
  go-test-runner -check ./build/test_math

`)
	}

	// Execution flags
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Default per-test timeout")
	flag.BoolVar(&cfg.Parallel, "parallel", cfg.Parallel, "Run tests in parallel (use -parallel=false to disable)")
	flag.IntVar(&cfg.MaxParallel, "max-parallel", cfg.MaxParallel, "Maximum parallel workers")
	flag.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Working directory for test processes")

	// Environment
	flag.Var(&env, "env", "Set KEY=VALUE in the test environment (can repeat)")
	flag.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "YAML file of KEY: VALUE environment overrides")

	// Output
	flag.BoolVar(&cfg.Capture, "capture", cfg.Capture, "Capture test stdout/stderr (use -capture=false to disable)")
	flag.BoolVar(&cfg.Stream, "stream", cfg.Stream, "Stream test output lines to the log as they arrive")
	flag.BoolVar(&cfg.IncludeDebug, "include-debug", cfg.IncludeDebug, "Keep DEBUG: lines in filtered output")
	flag.StringVar(&cfg.ShowOutput, "show-output", cfg.ShowOutput, `Print captured output after the run: "failed", "all", "none"`)

	// Observability
	flag.BoolVar(&cfg.MetricsEnabled, "metrics", cfg.MetricsEnabled, "Enable the Prometheus metrics endpoint")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics address")
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)

	// Safety & Diagnostics
	flag.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and preflight checks, run nothing")
	flag.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Parse
	flag.Parse()

	// Copy env overrides
	cfg.Env = env

	// Positional arguments: test executable paths
	cfg.Tests = flag.Args()

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
