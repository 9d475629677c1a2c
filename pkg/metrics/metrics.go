// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus instrumentation for the SensorPush
// collection daemon: sensor listing, sample fetch, and backend write
// operations. All metrics are automatically registered with Prometheus and
// exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SensorsDiscovered tracks the number of sensors returned by the most
	// recent vendor sensor listing.
	SensorsDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensorpush_sensors_discovered",
		Help: "Number of sensors returned by the most recent vendor sensor listing.",
	})

	// SamplesFetchedTotal tracks the total number of samples returned by
	// the vendor across all windows.
	SamplesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorpush_samples_fetched_total",
		Help: "Total number of samples returned by the vendor sample API.",
	})

	// SampleFetchErrorsTotal tracks failed sample fetch attempts.
	SampleFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorpush_sample_fetch_errors_total",
		Help: "Total number of failed vendor sample fetch attempts.",
	})

	// RecordsDroppedTotal tracks records dropped for having an empty field
	// map.
	RecordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorpush_records_dropped_total",
		Help: "Total number of records dropped for having zero fields.",
	})

	// RecordsWrittenTotal tracks records written per backend.
	RecordsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorpush_records_written_total",
		Help: "Total number of records successfully written, per backend.",
	}, []string{"backend"})

	// BackendWriteErrorsTotal tracks write failures per backend.
	BackendWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorpush_backend_write_errors_total",
		Help: "Total number of failed write attempts, per backend.",
	}, []string{"backend"})

	// BackendConnected tracks current connection state per backend (1/0).
	BackendConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensorpush_backend_connected",
		Help: "Current connection state of each backend writer (1 = connected, 0 = disconnected).",
	}, []string{"backend"})

	// CycleDuration tracks the wall-clock duration of a full collection
	// cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensorpush_cycle_duration_seconds",
		Help:    "Duration of a full collection cycle in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// WindowFetchDuration tracks the duration of a single window's
	// fetch-and-write.
	WindowFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensorpush_window_fetch_duration_seconds",
		Help:    "Duration of a single window fetch-and-write operation in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// ConsecutiveCycleFailures tracks the current consecutive-failure
	// counter (§7 of the design: the daemon exits at 50).
	ConsecutiveCycleFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensorpush_consecutive_cycle_failures",
		Help: "Current count of consecutive failed collection cycles (a cycle fails when any of its windows fails).",
	})

	// WatchdogPingsTotal tracks systemd watchdog notifications sent.
	WatchdogPingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorpush_watchdog_pings_total",
		Help: "Total number of systemd watchdog notifications sent.",
	})
)
