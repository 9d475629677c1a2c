// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package record builds the canonical, backend-agnostic measurement records
// that flow from VendorClient samples into BackendWriter writes.
package record

import (
	"time"

	"github.com/bolausson/SensorPush/unitconv"
	"github.com/bolausson/SensorPush/vendorclient"
)

// Record is an immutable (measurement, tags, fields, time) tuple. Two
// measurement names are in play: the configured base name for environmental
// readings, and that name with a "_V" suffix for device-health readings
// (voltage, RSSI).
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Time        time.Time
}

// Builder turns vendor sensor/sample data into Records. It is stateless
// aside from its configuration and safe for concurrent use.
type Builder struct {
	BaseMeasurement string
	MyAltitude      float64
	NoConvert       bool
}

// New constructs a Builder.
func New(baseMeasurement string, myAltitude float64, noConvert bool) *Builder {
	return &Builder{BaseMeasurement: baseMeasurement, MyAltitude: myAltitude, NoConvert: noConvert}
}

// BuildVoltageRecords produces one "<base>_V" record per sensor, carrying
// battery voltage and RSSI. Missing fields are substituted with 0.0 rather
// than dropped, since every sensor reports these even when environmental
// readings are sparse.
func (b *Builder) BuildVoltageRecords(sensors map[string]vendorclient.Sensor, now time.Time) []Record {
	measurement := b.BaseMeasurement + "_V"
	records := make([]Record, 0, len(sensors))

	for id, sensor := range sensors {
		records = append(records, Record{
			Measurement: measurement,
			Tags: map[string]string{
				"sensor_id":   id,
				"sensor_name": sensor.Name,
			},
			Fields: map[string]float64{
				"voltage": sensor.BatteryVoltage,
				"rssi":    sensor.RSSI,
			},
			Time: now,
		})
	}
	return records
}

// ProcessSamples converts a SamplesResponse into one Record per (sensor,
// observation), using sensorIndex to resolve sensor names for the tag set.
// Samples for sensors absent from sensorIndex are skipped, since there is no
// name to tag them with.
func (b *Builder) ProcessSamples(samples vendorclient.SamplesResponse, sensorIndex map[string]vendorclient.Sensor) ([]Record, error) {
	var records []Record

	for sensorID, sensorSamples := range samples.Sensors {
		sensor, ok := sensorIndex[sensorID]
		if !ok {
			continue
		}

		for _, sample := range sensorSamples {
			observed, err := parseObserved(sample.Observed)
			if err != nil {
				return nil, err
			}

			fields := b.buildFields(sample)
			if len(fields) == 0 {
				continue
			}

			records = append(records, Record{
				Measurement: b.BaseMeasurement,
				Tags: map[string]string{
					"sensor_id":   sensorID,
					"sensor_name": sensor.Name,
				},
				Fields: fields,
				Time:   observed,
			})
		}
	}
	return records, nil
}

func (b *Builder) buildFields(sample vendorclient.Sample) map[string]float64 {
	fields := make(map[string]float64)

	var temperature float64
	if sample.HasTemperature {
		temperature = unitconv.FToC(sample.TemperatureF, b.NoConvert)
		fields["temperature"] = temperature
	}
	if sample.HasHumidity {
		fields["humidity"] = sample.Humidity
	}

	havePressure := sample.HasPressure
	var pressure float64
	if havePressure {
		pressure = unitconv.InHgToMBar(sample.BarometricPressure, b.NoConvert)
		fields["pressure"] = pressure
	}

	altitude := b.MyAltitude
	if sample.HasAltitude {
		if converted := unitconv.FtToM(sample.Altitude, b.NoConvert); converted != 0 {
			altitude = converted
		}
	}
	fields["altitude"] = altitude

	if sample.HasDistance {
		fields["distance"] = unitconv.FtToM(sample.Distance, b.NoConvert)
	}

	// Derived quantities require both humidity and temperature; the
	// vendor sample is tolerant of partial data so either may be absent.
	if sample.HasHumidity && sample.HasTemperature {
		fields["abs_humidity"] = unitconv.AbsoluteHumidity(sample.Humidity, temperature, pressure, havePressure)

		if sample.HasDewpoint {
			fields["dewpoint"] = unitconv.FToC(sample.Dewpoint, b.NoConvert)
		} else {
			fields["dewpoint"] = unitconv.Dewpoint(sample.Humidity, temperature)
		}

		if sample.HasVPD {
			fields["vpd"] = unitconv.KPaToMBar(sample.VPD, b.NoConvert)
		} else {
			fields["vpd"] = unitconv.VPD(sample.Humidity, temperature)
		}
	} else {
		if sample.HasDewpoint {
			fields["dewpoint"] = unitconv.FToC(sample.Dewpoint, b.NoConvert)
		}
		if sample.HasVPD {
			fields["vpd"] = unitconv.KPaToMBar(sample.VPD, b.NoConvert)
		}
	}

	return fields
}

// vendorTimestampLayout matches the vendor's numeric-offset timestamps,
// e.g. "2024-01-01T12:00:00+0200" (no colon in the offset, unlike RFC3339).
const vendorTimestampLayout = "2006-01-02T15:04:05-0700"

func parseObserved(observed string) (time.Time, error) {
	if t, err := time.Parse(vendorTimestampLayout, observed); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, observed)
}
