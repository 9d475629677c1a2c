// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPerformHealthCheck(t *testing.T) {
	if exitCode := performHealthCheck(); exitCode != 0 {
		t.Errorf("performHealthCheck() = %d, want 0", exitCode)
	}
}

func TestPerformConfigValidation_Valid(t *testing.T) {
	path := writeTestConfig(t, `
vendor:
  email: user@example.com
  password: hunter2
poll:
  measurement: sensorpush
  interval: 5m
backends:
  - type: influxdb2
    url: http://localhost:8086
    token: testtoken
    org: testorg
    bucket: testbucket
logging:
  level: info
`)

	if exitCode := performConfigValidation(path); exitCode != 0 {
		t.Errorf("performConfigValidation() = %d, want 0", exitCode)
	}
}

func TestPerformConfigValidation_Invalid(t *testing.T) {
	path := writeTestConfig(t, `
vendor:
  email: not-an-email
  password: hunter2
backends: []
`)

	if exitCode := performConfigValidation(path); exitCode != 1 {
		t.Errorf("performConfigValidation() = %d, want 1", exitCode)
	}
}

func TestPerformConfigValidation_MissingFile(t *testing.T) {
	if exitCode := performConfigValidation(filepath.Join(t.TempDir(), "missing.yaml")); exitCode != 1 {
		t.Errorf("performConfigValidation() = %d, want 1", exitCode)
	}
}

func TestParseLiteralWindow(t *testing.T) {
	start, stop, err := parseLiteralWindow("2026-07-01T00:00:00Z", "2026-07-02T00:00:00Z")
	if err != nil {
		t.Fatalf("parseLiteralWindow() error = %v", err)
	}
	if !stop.After(start) {
		t.Errorf("parseLiteralWindow() stop %v not after start %v", stop, start)
	}
	wantStart, _ := time.Parse(time.RFC3339, "2026-07-01T00:00:00Z")
	if !start.Equal(wantStart) {
		t.Errorf("parseLiteralWindow() start = %v, want %v", start, wantStart)
	}
}

func TestParseLiteralWindow_MissingStop(t *testing.T) {
	if _, _, err := parseLiteralWindow("2026-07-01T00:00:00Z", ""); err == nil {
		t.Error("parseLiteralWindow() expected error when -stop is missing")
	}
}

func TestParseLiteralWindow_StopBeforeStart(t *testing.T) {
	if _, _, err := parseLiteralWindow("2026-07-02T00:00:00Z", "2026-07-01T00:00:00Z"); err == nil {
		t.Error("parseLiteralWindow() expected error when -stop is before -start")
	}
}

func TestParseLiteralWindow_InvalidFormat(t *testing.T) {
	if _, _, err := parseLiteralWindow("not-a-time", "2026-07-01T00:00:00Z"); err == nil {
		t.Error("parseLiteralWindow() expected error for unparseable -start")
	}
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}
