// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package vendorclient

import "encoding/json"

// rawSample mirrors the vendor's loose per-sample JSON shape: every
// measurement field is optional. Decoding through pointers lets us tell
// "absent" apart from "present and zero".
type rawSample struct {
	Observed           string   `json:"observed"`
	Humidity           *float64 `json:"humidity"`
	Temperature        *float64 `json:"temperature"`
	BarometricPressure *float64 `json:"barometric_pressure"`
	Altitude           *float64 `json:"altitude"`
	Distance           *float64 `json:"distance"`
	Dewpoint           *float64 `json:"dewpoint"`
	VPD                *float64 `json:"vpd"`
}

// UnmarshalJSON implements json.Unmarshaler, translating the vendor's
// pointer-optional shape into Sample's Has*/value field pairs.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw rawSample
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Sample{Observed: raw.Observed}

	if raw.Humidity != nil {
		s.Humidity, s.HasHumidity = *raw.Humidity, true
	}
	if raw.Temperature != nil {
		s.TemperatureF, s.HasTemperature = *raw.Temperature, true
	}
	if raw.BarometricPressure != nil {
		s.BarometricPressure, s.HasPressure = *raw.BarometricPressure, true
	}
	if raw.Altitude != nil {
		s.Altitude, s.HasAltitude = *raw.Altitude, true
	}
	if raw.Distance != nil {
		s.Distance, s.HasDistance = *raw.Distance, true
	}
	if raw.Dewpoint != nil {
		s.Dewpoint, s.HasDewpoint = *raw.Dewpoint, true
	}
	if raw.VPD != nil {
		s.VPD, s.HasVPD = *raw.VPD, true
	}

	return nil
}

// MarshalJSON implements json.Marshaler, the inverse of UnmarshalJSON. Used
// by tests constructing fixture payloads.
func (s Sample) MarshalJSON() ([]byte, error) {
	raw := rawSample{Observed: s.Observed}
	if s.HasHumidity {
		raw.Humidity = &s.Humidity
	}
	if s.HasTemperature {
		raw.Temperature = &s.TemperatureF
	}
	if s.HasPressure {
		raw.BarometricPressure = &s.BarometricPressure
	}
	if s.HasAltitude {
		raw.Altitude = &s.Altitude
	}
	if s.HasDistance {
		raw.Distance = &s.Distance
	}
	if s.HasDewpoint {
		raw.Dewpoint = &s.Dewpoint
	}
	if s.HasVPD {
		raw.VPD = &s.VPD
	}
	return json.Marshal(raw)
}
