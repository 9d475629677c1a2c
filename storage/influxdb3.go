// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/influxdb3"

	"github.com/bolausson/SensorPush/pkg/logger"
	"github.com/bolausson/SensorPush/record"
)

// InfluxDB3Config configures the InfluxDB v3 writer.
type InfluxDB3Config struct {
	Host      string
	Token     string
	Database  string
	VerifySSL bool

	// Batching is accepted but not read: every Write is one synchronous
	// WritePoints call, and there is no batched write path.
	Batching bool
}

// InfluxDB3Writer writes records via the InfluxDB v3 SDK and queries last
// timestamps with SQL.
type InfluxDB3Writer struct {
	cfg    InfluxDB3Config
	client *influxdb3.Client
}

// NewInfluxDB3Writer constructs an unconnected writer.
func NewInfluxDB3Writer(cfg InfluxDB3Config) *InfluxDB3Writer {
	return &InfluxDB3Writer{cfg: cfg}
}

func (w *InfluxDB3Writer) Name() string { return "influxdb3" }

func (w *InfluxDB3Writer) Connect(ctx context.Context) error {
	if w.client != nil {
		return nil
	}

	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     w.cfg.Host,
		Token:    w.cfg.Token,
		Database: w.cfg.Database,
	})
	if err != nil {
		return fmt.Errorf("influxdb3 client init: %w", err)
	}
	w.client = client

	logger.Info().Str("host", w.cfg.Host).Msg("connected to InfluxDB v3")
	return nil
}

func (w *InfluxDB3Writer) Write(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*influxdb3.Point, 0, len(records))
	for _, r := range records {
		p := influxdb3.NewPoint(r.Measurement, r.Tags, toInterfaceMap(r.Fields), r.Time)
		points = append(points, p)
	}

	// Points are written synchronously in one call; nothing is accumulated
	// across Write calls, whatever the Batching setting.
	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("influxdb3 write: %w", err)
	}
	return nil
}

func toInterfaceMap(fields map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (w *InfluxDB3Writer) QueryLastTimestamp(ctx context.Context, measurement, sensorID string) (time.Time, bool, error) {
	var where strings.Builder
	where.WriteString("time > now() - INTERVAL '30 days'")
	if sensorID != "" {
		where.WriteString(fmt.Sprintf(" AND sensor_id = '%s'", strings.ReplaceAll(sensorID, "'", "''")))
	}

	query := fmt.Sprintf(`SELECT max(time) AS last_time FROM "%s" WHERE %s`,
		strings.ReplaceAll(measurement, `"`, `""`), where.String())

	iterator, err := w.client.Query(ctx, query)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("influxdb3 query last timestamp: %w", err)
	}

	for iterator.Next() {
		row := iterator.Value()
		raw, ok := row["last_time"]
		if !ok || raw == nil {
			continue
		}
		if ts, ok := raw.(time.Time); ok {
			return ts, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (w *InfluxDB3Writer) Close() error {
	if w.client != nil {
		if err := w.client.Close(); err != nil {
			return fmt.Errorf("influxdb3 close: %w", err)
		}
		logger.Info().Msg("InfluxDB v3 connection closed")
	}
	return nil
}
