// Package main provides the go-test-runner CLI entry point.
//
// go-test-runner executes a suite of test binaries under supervision:
// per-test timeouts, output capture, crash classification, and a sharded
// parallel worker pool.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-test-runner/internal/config"
	"github.com/randomizedcoder/go-test-runner/internal/harness"
	"github.com/randomizedcoder/go-test-runner/internal/logging"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-test-runner
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-test-runner %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}

	// Log startup
	logger.Info("starting",
		"version", version,
		"tests", len(cfg.Tests),
		"parallel", cfg.Parallel,
		"max_parallel", cfg.MaxParallel,
		"timeout", cfg.Timeout.String(),
	)

	// Print startup banner (skipped under the TUI, which owns the screen)
	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	// Create and run the harness
	h := harness.New(cfg, logger)
	h.SetVersion(version)

	stats, err := h.Run(context.Background())
	if err != nil {
		logger.Error("run_failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if !stats.AllPassed() {
		return 1
	}
	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                         go-test-runner                            ║")
	fmt.Println("║        Supervised Test Execution with Timeouts and Capture        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Tests:       %d\n", len(cfg.Tests))
	if cfg.Parallel {
		fmt.Printf("  Workers:     %d\n", cfg.MaxParallel)
	} else {
		fmt.Println("  Workers:     1 (sequential)")
	}
	fmt.Printf("  Timeout:     %s per test\n", cfg.Timeout)
	fmt.Printf("  Work dir:    %s\n", cfg.WorkDir)
	if cfg.MetricsEnabled {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
