// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package vendorclient

// Sensor is a single entry from the vendor's sensor listing.
type Sensor struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	BatteryVoltage float64 `json:"battery_voltage"`
	RSSI           float64 `json:"rssi"`
}

// Gateway is a single entry from the vendor's gateway listing.
type Gateway struct {
	Name      string `json:"name"`
	LastSeen  string `json:"last_seen"`
	LastAlert string `json:"last_alert"`
	Message   string `json:"message"`
	Paired    bool   `json:"paired"`
	Version   string `json:"version"`
}

// Sample is one (sensor, observation) datum from the vendor's sample
// response. Any numeric field may be absent; callers must check Has* before
// reading the corresponding value.
type Sample struct {
	Observed            string
	Humidity            float64
	HasHumidity         bool
	TemperatureF        float64
	HasTemperature      bool
	BarometricPressure  float64
	HasPressure         bool
	Altitude            float64
	HasAltitude         bool
	Distance            float64
	HasDistance         bool
	Dewpoint            float64
	HasDewpoint         bool
	VPD                 float64
	HasVPD              bool
}

// SamplesResponse is the decoded `/samples` response.
type SamplesResponse struct {
	Sensors      map[string][]Sample
	TotalSamples int
	TotalSensors int
	Truncated    bool
}

// ReportsResponse is the decoded `/reports/list` response; informational
// only.
type ReportsResponse struct {
	Files []string
}
