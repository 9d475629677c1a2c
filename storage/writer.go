// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage implements the BackendWriter contract and its three
// concrete time-series backends (InfluxDB v2, InfluxDB v3, VictoriaMetrics),
// plus the WriterPool that owns connection state, retry, and reconnection
// across all configured backends.
package storage

import (
	"context"
	"time"

	"github.com/bolausson/SensorPush/record"
)

// BackendWriter is the contract every concrete time-series backend
// implements. All three writers support an idempotent write model:
// re-sending a point with the same (measurement, tag-set, timestamp) either
// overwrites or is a no-op, so retries never double-count data.
type BackendWriter interface {
	// Name identifies the writer for logs and metrics (e.g. "influxdb2").
	Name() string

	// Connect is idempotent; it is safe to call repeatedly and must leave
	// the writer in a connected state on success.
	Connect(ctx context.Context) error

	// Write performs an atomic best-effort write of the batch.
	Write(ctx context.Context, records []record.Record) error

	// QueryLastTimestamp returns the newest timestamp with the given
	// measurement and, if sensorID is non-empty, tag sensor_id=sensorID,
	// within a 30-day lookback window. Returns the zero Time and false if
	// no matching point exists.
	QueryLastTimestamp(ctx context.Context, measurement, sensorID string) (time.Time, bool, error)

	// Close releases resources; idempotent.
	Close() error
}
