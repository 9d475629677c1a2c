// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package record

import (
	"testing"
	"time"

	"github.com/bolausson/SensorPush/vendorclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const myAltitude = 250.0

func sensorIndex() map[string]vendorclient.Sensor {
	return map[string]vendorclient.Sensor{
		"sensor-1": {ID: "sensor-1", Name: "Greenhouse", BatteryVoltage: 2.95, RSSI: -60},
	}
}

func TestBuildVoltageRecords(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	records := b.BuildVoltageRecords(sensorIndex(), now)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "sensorpush_V", r.Measurement)
	assert.Equal(t, "sensor-1", r.Tags["sensor_id"])
	assert.Equal(t, "Greenhouse", r.Tags["sensor_name"])
	assert.Equal(t, 2.95, r.Fields["voltage"])
	assert.Equal(t, -60.0, r.Fields["rssi"])
	assert.Equal(t, now, r.Time)
}

func TestBuildVoltageRecordsMissingFieldsDefaultToZero(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sensors := map[string]vendorclient.Sensor{"sensor-2": {ID: "sensor-2", Name: "Attic"}}

	records := b.BuildVoltageRecords(sensors, time.Now())

	require.Len(t, records, 1)
	assert.Equal(t, 0.0, records[0].Fields["voltage"])
	assert.Equal(t, 0.0, records[0].Fields["rssi"])
}

func samplesResponse(observed string, s vendorclient.Sample) vendorclient.SamplesResponse {
	return vendorclient.SamplesResponse{
		Sensors: map[string][]vendorclient.Sample{"sensor-1": {s}},
	}
}

// Scenario 3 from the spec: pressure absent.
func TestProcessSamplesPressureAbsent(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sample := vendorclient.Sample{
		Observed:       "2024-01-01T00:00:00Z",
		Humidity:       50.0,
		HasHumidity:    true,
		TemperatureF:   77.0,
		HasTemperature: true,
	}

	records, err := b.ProcessSamples(samplesResponse(sample.Observed, sample), sensorIndex())
	require.NoError(t, err)
	require.Len(t, records, 1)

	fields := records[0].Fields
	assert.Equal(t, 50.0, fields["humidity"])
	assert.InDelta(t, 25.0, fields["temperature"], 0.01)
	assert.Equal(t, myAltitude, fields["altitude"])
	assert.InDelta(t, 13.86, fields["dewpoint"], 0.1)
	assert.InDelta(t, 15.85, fields["vpd"], 0.2)
	assert.InDelta(t, 11.52, fields["abs_humidity"], 0.1)
	assert.NotContains(t, fields, "pressure")
}

// Scenario 4 from the spec: pressure present.
func TestProcessSamplesPressurePresent(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sample := vendorclient.Sample{
		Observed:           "2024-01-01T00:00:00Z",
		Humidity:           50.0,
		HasHumidity:        true,
		TemperatureF:       77.0,
		HasTemperature:     true,
		BarometricPressure: 29.92,
		HasPressure:        true,
	}

	records, err := b.ProcessSamples(samplesResponse(sample.Observed, sample), sensorIndex())
	require.NoError(t, err)
	require.Len(t, records, 1)

	fields := records[0].Fields
	assert.InDelta(t, 1013.21, fields["pressure"], 0.01)
	assert.Contains(t, fields, "abs_humidity")
}

func TestProcessSamplesGuardsMissingTemperature(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sample := vendorclient.Sample{
		Observed:    "2024-01-01T00:00:00Z",
		Humidity:    50.0,
		HasHumidity: true,
	}

	records, err := b.ProcessSamples(samplesResponse(sample.Observed, sample), sensorIndex())
	require.NoError(t, err)
	require.Len(t, records, 1)

	fields := records[0].Fields
	assert.NotContains(t, fields, "abs_humidity")
	assert.NotContains(t, fields, "dewpoint")
	assert.NotContains(t, fields, "vpd")
	assert.Contains(t, fields, "humidity")
	assert.Contains(t, fields, "altitude")
}

func TestProcessSamplesAltitudeFallsBackWhenZero(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sample := vendorclient.Sample{
		Observed:       "2024-01-01T00:00:00Z",
		Humidity:       50.0,
		HasHumidity:    true,
		TemperatureF:   77.0,
		HasTemperature: true,
		Altitude:       0,
		HasAltitude:    true,
	}

	records, err := b.ProcessSamples(samplesResponse(sample.Observed, sample), sensorIndex())
	require.NoError(t, err)
	assert.Equal(t, myAltitude, records[0].Fields["altitude"])
}

func TestProcessSamplesUsesExplicitDewpointAndVPDWhenPresent(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sample := vendorclient.Sample{
		Observed:       "2024-01-01T00:00:00Z",
		Humidity:       50.0,
		HasHumidity:    true,
		TemperatureF:   77.0,
		HasTemperature: true,
		Dewpoint:       55.0,
		HasDewpoint:    true,
		VPD:            1.5,
		HasVPD:         true,
	}

	records, err := b.ProcessSamples(samplesResponse(sample.Observed, sample), sensorIndex())
	require.NoError(t, err)

	fields := records[0].Fields
	assert.InDelta(t, 12.78, fields["dewpoint"], 0.01)
	assert.InDelta(t, 15.0, fields["vpd"], 0.01)
}

func TestProcessSamplesSkipsUnknownSensor(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	samples := vendorclient.SamplesResponse{
		Sensors: map[string][]vendorclient.Sample{
			"unknown-sensor": {{Observed: "2024-01-01T00:00:00Z", Humidity: 50, HasHumidity: true}},
		},
	}

	records, err := b.ProcessSamples(samples, sensorIndex())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessSamplesRejectsUnparseableTimestamp(t *testing.T) {
	b := New("sensorpush", myAltitude, false)
	sample := vendorclient.Sample{Observed: "not-a-timestamp", Humidity: 50, HasHumidity: true}

	_, err := b.ProcessSamples(samplesResponse(sample.Observed, sample), sensorIndex())
	assert.Error(t, err)
}
