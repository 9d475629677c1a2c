// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxwrite "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bolausson/SensorPush/pkg/logger"
	"github.com/bolausson/SensorPush/record"
)

// InfluxDB2Config configures the InfluxDB v2 writer.
type InfluxDB2Config struct {
	URL       string
	Token     string
	Org       string
	Bucket    string
	VerifySSL bool
}

// InfluxDB2Writer writes records via the InfluxDB v2 line-protocol client
// and queries last timestamps with a Flux last().
type InfluxDB2Writer struct {
	cfg InfluxDB2Config

	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
}

// NewInfluxDB2Writer constructs an unconnected writer. Call Connect before
// Write or QueryLastTimestamp.
func NewInfluxDB2Writer(cfg InfluxDB2Config) *InfluxDB2Writer {
	return &InfluxDB2Writer{cfg: cfg}
}

func (w *InfluxDB2Writer) Name() string { return "influxdb2" }

// Connect is idempotent: calling it again simply re-verifies health on an
// already-constructed client.
func (w *InfluxDB2Writer) Connect(ctx context.Context) error {
	if w.client == nil {
		options := influxdb2.DefaultOptions()
		if !w.cfg.VerifySSL {
			options = options.SetTLSConfig(insecureTLSConfig())
		}
		w.client = influxdb2.NewClientWithOptions(w.cfg.URL, w.cfg.Token, options)
		w.writeAPI = w.client.WriteAPIBlocking(w.cfg.Org, w.cfg.Bucket)
		w.queryAPI = w.client.QueryAPI(w.cfg.Org)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := w.client.Health(healthCtx)
	if err != nil {
		return fmt.Errorf("influxdb2 health check: %w", err)
	}
	if health.Status != "pass" {
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return fmt.Errorf("influxdb2 unhealthy: %s", message)
	}

	logger.Info().Str("url", w.cfg.URL).Msg("connected to InfluxDB v2")
	return nil
}

func (w *InfluxDB2Writer) Write(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*influxwrite.Point, 0, len(records))
	for _, r := range records {
		fields := make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		tags := make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			tags[k] = v
		}
		points = append(points, influxdb2.NewPoint(r.Measurement, tags, fields, r.Time))
	}

	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influxdb2 write: %w", err)
	}
	return nil
}

// sanitizeFluxString escapes characters that would otherwise let a tag
// value break out of the Flux string literal it's interpolated into.
func sanitizeFluxString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func (w *InfluxDB2Writer) QueryLastTimestamp(ctx context.Context, measurement, sensorID string) (time.Time, bool, error) {
	filter := fmt.Sprintf(`r._measurement == "%s" and r._field == "temperature"`, sanitizeFluxString(measurement))
	if sensorID != "" {
		filter += fmt.Sprintf(` and r.sensor_id == "%s"`, sanitizeFluxString(sensorID))
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => %s)
			|> keep(columns: ["_time"])
			|> last()
	`, sanitizeFluxString(w.cfg.Bucket), filter)

	result, err := w.queryAPI.Query(ctx, query)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("influxdb2 query last timestamp: %w", err)
	}
	defer func() { _ = result.Close() }()

	var last time.Time
	var found bool
	for result.Next() {
		last = result.Record().Time()
		found = true
	}
	if result.Err() != nil {
		return time.Time{}, false, fmt.Errorf("influxdb2 query parsing: %w", result.Err())
	}
	return last, found, nil
}

func (w *InfluxDB2Writer) Close() error {
	if w.client != nil {
		w.client.Close()
		logger.Info().Msg("InfluxDB v2 connection closed")
	}
	return nil
}
