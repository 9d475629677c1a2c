// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolausson/SensorPush/record"
)

func TestVMWriterWriteEncodesOneLinePerField(t *testing.T) {
	var receivedLines []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		for {
			var m vmMetric
			if err := dec.Decode(&m); err != nil {
				break
			}
			b, _ := json.Marshal(m)
			receivedLines = append(receivedLines, string(b))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewVMWriter(VMConfig{URL: srv.URL, VerifySSL: true})
	require.NoError(t, w.Connect(context.Background()))

	r := record.Record{
		Measurement: "sensorpush",
		Tags:        map[string]string{"sensor_id": "1", "sensor_name": "Greenhouse"},
		Fields:      map[string]float64{"humidity": 50, "temperature": 25},
		Time:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	err := w.Write(context.Background(), []record.Record{r})
	require.NoError(t, err)
	assert.Len(t, receivedLines, 2)
}

func TestVMWriterWriteNoRecordsIsNoop(t *testing.T) {
	w := NewVMWriter(VMConfig{URL: "http://unused.invalid"})
	require.NoError(t, w.Connect(context.Background()))
	assert.NoError(t, w.Write(context.Background(), nil))
}

func TestVMWriterWriteSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewVMWriter(VMConfig{URL: srv.URL})
	require.NoError(t, w.Connect(context.Background()))

	err := w.Write(context.Background(), []record.Record{{
		Measurement: "sensorpush", Fields: map[string]float64{"humidity": 1}, Time: time.Now(),
	}})
	assert.Error(t, err)
}

func TestVMWriterQueryLastTimestamp(t *testing.T) {
	wantUnix := time.Now().Add(-10 * time.Minute).Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), "tslast_over_time(sensorpush_temperature[30d])")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"data":{"result":[{"value":[%d, "%d"]}]}}`, wantUnix, wantUnix)
	}))
	defer srv.Close()

	w := NewVMWriter(VMConfig{URL: srv.URL})
	require.NoError(t, w.Connect(context.Background()))

	ts, found, err := w.QueryLastTimestamp(context.Background(), "sensorpush", "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, wantUnix, ts.Unix())
}

func TestVMWriterQueryLastTimestampNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"result":[]}}`))
	}))
	defer srv.Close()

	w := NewVMWriter(VMConfig{URL: srv.URL})
	require.NoError(t, w.Connect(context.Background()))

	_, found, err := w.QueryLastTimestamp(context.Background(), "sensorpush", "")
	require.NoError(t, err)
	assert.False(t, found)
}
