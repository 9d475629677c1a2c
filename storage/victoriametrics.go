// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bolausson/SensorPush/pkg/logger"
	"github.com/bolausson/SensorPush/record"
)

// VMConfig configures the VictoriaMetrics writer.
type VMConfig struct {
	URL       string
	VerifySSL bool
}

// VMWriter converts records to VictoriaMetrics' native JSON import format
// and posts them over HTTP. There is no published Go client for
// VictoriaMetrics native import; a bare POST is what VictoriaMetrics' own
// documentation recommends, so this talks directly to net/http.
type VMWriter struct {
	cfg    VMConfig
	client *http.Client
}

// NewVMWriter constructs an unconnected writer.
func NewVMWriter(cfg VMConfig) *VMWriter {
	return &VMWriter{cfg: cfg}
}

func (w *VMWriter) Name() string { return "victoriametrics" }

func (w *VMWriter) Connect(ctx context.Context) error {
	if w.client == nil {
		transport := &http.Transport{}
		if !w.cfg.VerifySSL {
			transport.TLSClientConfig = insecureTLSConfig()
		}
		w.client = &http.Client{Timeout: 30 * time.Second, Transport: transport}
	}
	logger.Info().Str("url", w.cfg.URL).Msg("VictoriaMetrics writer ready")
	return nil
}

type vmMetric struct {
	Metric     map[string]string `json:"metric"`
	Values     []float64         `json:"values"`
	Timestamps []int64           `json:"timestamps"`
}

func (w *VMWriter) Write(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		timestampMS := r.Time.UnixMilli()
		for field, value := range r.Fields {
			metric := map[string]string{"__name__": r.Measurement + "_" + field}
			for k, v := range r.Tags {
				metric[k] = v
			}
			if err := enc.Encode(vmMetric{
				Metric:     metric,
				Values:     []float64{value},
				Timestamps: []int64{timestampMS},
			}); err != nil {
				return fmt.Errorf("victoriametrics encode: %w", err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL+"/api/v1/import", &buf)
	if err != nil {
		return fmt.Errorf("victoriametrics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("victoriametrics write: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("victoriametrics write status %d: %s", resp.StatusCode, body)
	}
	return nil
}

type vmQueryResponse struct {
	Data struct {
		Result []struct {
			Value []interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (w *VMWriter) QueryLastTimestamp(ctx context.Context, measurement, sensorID string) (time.Time, bool, error) {
	metric := measurement + "_temperature"
	selector := metric
	if sensorID != "" {
		selector = fmt.Sprintf(`%s{sensor_id=%q}`, metric, sensorID)
	}
	query := fmt.Sprintf("tslast_over_time(%s[30d])", selector)

	reqURL := w.cfg.URL + "/api/v1/query?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("victoriametrics query request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("victoriametrics query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return time.Time{}, false, fmt.Errorf("victoriametrics query status %d: %s", resp.StatusCode, body)
	}

	var parsed vmQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return time.Time{}, false, fmt.Errorf("victoriametrics query decode: %w", err)
	}
	if len(parsed.Data.Result) == 0 || len(parsed.Data.Result[0].Value) != 2 {
		return time.Time{}, false, nil
	}

	raw, ok := parsed.Data.Result[0].Value[1].(string)
	if !ok {
		return time.Time{}, false, nil
	}
	unixSeconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("victoriametrics timestamp parse: %w", err)
	}

	sec := int64(unixSeconds)
	nsec := int64((unixSeconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true, nil
}

func (w *VMWriter) Close() error {
	logger.Info().Msg("VictoriaMetrics session closed")
	return nil
}
