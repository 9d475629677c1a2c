// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// SensorPush collector polls the SensorPush cloud API for sensor samples and
// derived device-health readings, and writes them to one or more configured
// time-series backends (InfluxDB v2, InfluxDB v3, VictoriaMetrics).
//
// # Application Architecture
//
// The collector is a single-process daemon built from three layers:
//   - vendorclient: authenticates against the SensorPush cloud API and
//     fetches sensor metadata and samples
//   - record: derives InfluxDB/VictoriaMetrics records (including derived
//     scientific quantities) from raw vendor samples
//   - storage: fans writes out to every configured backend behind a circuit
//     breaker and retry/backoff policy
//
// Package daemon orchestrates these three into the cycle state machine;
// package app wraps the daemon with the ambient HTTP surface (/metrics,
// /health, /ready) and signal-driven graceful shutdown.
//
// # Command-Line Usage
//
// Run continuously on the configured poll interval:
//
//	./sensorpush-collector -config /path/to/config.yaml
//
// Run a single collection cycle and exit:
//
//	./sensorpush-collector -config config.yaml -once
//
// Backfill a literal time range and exit:
//
//	./sensorpush-collector -config config.yaml -start 2026-07-01T00:00:00Z -stop 2026-07-02T00:00:00Z
//
// Preview what would be written without touching any backend:
//
//	./sensorpush-collector -config config.yaml -once -dry-run
//
// Validate configuration and exit:
//
//	./sensorpush-collector -config config.yaml -validate-config
//
// Health check mode (for Docker/K8s):
//
//	./sensorpush-collector -health-check
//
// # Environment Variables
//
// See config/config.go for the full list of environment variable overrides.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bolausson/SensorPush/app"
	"github.com/bolausson/SensorPush/config"
	"github.com/bolausson/SensorPush/daemon"
	"github.com/bolausson/SensorPush/pkg/logger"
)

const timeFlagLayout = time.RFC3339

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	once := flag.Bool("once", false, "Run a single collection cycle and exit")
	dryRun := flag.Bool("dry-run", false, "Log records instead of writing them to backends")
	startFlag := flag.String("start", "", "Literal window start (RFC3339), used with -stop; implies -once")
	stopFlag := flag.String("stop", "", "Literal window stop (RFC3339), used with -start; implies -once")
	sensorsFlag := flag.String("sensors", "", "Comma-separated sensor ID allowlist (default: all sensors)")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck())
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)
	logger.Info().Msg("Starting SensorPush collector")
	logger.Info().Dur("poll_interval", cfg.Poll.Interval).
		Str("poll_backlog", cfg.Poll.Backlog).
		Int("backend_count", len(cfg.Backends)).
		Msg("Configuration loaded")

	opts := daemon.Options{
		Measurement: cfg.Poll.Measurement,
		Backlog:     cfg.Poll.Backlog,
		WindowStep:  cfg.Poll.WindowStep,
		Measures:    cfg.Poll.Measures,
		Limit:       cfg.Poll.Limit,
		Sensors:     cfg.Poll.Sensors,
		DryRun:      *dryRun,
	}

	if *sensorsFlag != "" {
		opts.Sensors = strings.Split(*sensorsFlag, ",")
	}

	runOnce := *once
	if *startFlag != "" || *stopFlag != "" {
		start, stop, parseErr := parseLiteralWindow(*startFlag, *stopFlag)
		if parseErr != nil {
			logger.Fatal().Err(parseErr).Msg("Invalid -start/-stop flags")
		}
		opts.Start = start
		opts.Stop = stop
		runOnce = true
	}

	a, err := app.New(cfg, *metricsPort, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	setupDebugSignalHandlers(a)

	if runOnce {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := a.RunOnce(ctx); err != nil {
			logger.Fatal().Err(err).Msg("One-shot collection cycle failed")
		}
		logger.Info().Msg("One-shot collection cycle complete")
		return
	}

	if err := a.Run(cfg.Poll.Interval); err != nil {
		logger.Fatal().Err(err).Msg("Collector exited with error")
	}
}

// parseLiteralWindow requires both -start and -stop together, RFC3339.
func parseLiteralWindow(startFlag, stopFlag string) (time.Time, time.Time, error) {
	if startFlag == "" || stopFlag == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start and -stop must be given together")
	}
	start, err := time.Parse(timeFlagLayout, startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
	}
	stop, err := time.Parse(timeFlagLayout, stopFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -stop: %w", err)
	}
	if !stop.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("-stop must be after -start")
	}
	return start, stop, nil
}

// performHealthCheck is a minimal liveness check for Docker/K8s: if the
// binary can start and parse flags, it reports healthy.
func performHealthCheck() int {
	return 0
}

// performConfigValidation validates the configuration file and returns exit
// code 0 if valid, 1 if invalid.
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\nConfiguration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fmt.Fprintf(os.Stderr, "Please check your configuration file and fix the errors above.\n")
		return 1
	}

	logger.Info().Msg("Configuration validation successful")
	fmt.Println("\nConfiguration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Vendor Email: %s\n", cfg.Vendor.Email)
	fmt.Printf("  Poll Measurement: %s\n", cfg.Poll.Measurement)
	fmt.Printf("  Poll Interval: %s\n", cfg.Poll.Interval)
	fmt.Printf("  Poll Backlog: %s\n", cfg.Poll.Backlog)
	fmt.Printf("  Window Step: %s\n", cfg.Poll.WindowStep)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Backends: %d configured\n", len(cfg.Backends))
	for i, b := range cfg.Backends {
		fmt.Printf("    [%d] type=%s\n", i, b.Type)
	}
	fmt.Printf("  Cache Directory: %s\n", cfg.Cache.Directory)
	fmt.Printf("  Cache Max Size: %d MB\n", cfg.Cache.MaxSize/(1024*1024))
	fmt.Printf("  Cache Max Age: %s\n", cfg.Cache.MaxAge)

	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Println("  Slack Notifications: Enabled")
	} else {
		fmt.Println("  Slack Notifications: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
