// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/bolausson/SensorPush/app"
	"github.com/bolausson/SensorPush/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist.
// On Windows, debug information can be accessed via:
// - HTTP endpoints (/health, /ready)
// - Log file analysis
// - Windows Performance Monitor
func setupDebugSignalHandlers(application *app.App) {
	_ = application
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
