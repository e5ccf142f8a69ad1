package domain

import "math"

// Physical plausibility limits, fixed for the life of the process.
const (
	MinTemperature = -100.0
	MaxTemperature = 70.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
	MinWindSpeed   = 0.0
	// MaxWindSpeed is documented only; no stage rejects on it.
	MaxWindSpeed = 150.0
	// MinPressure and MaxPressure are informational. Pressure outside the
	// range is kept.
	MinPressure = 800.0
	MaxPressure = 1100.0
)

// TemperatureInBounds reports whether t is a physically possible air temperature.
// NaN is out of bounds.
func TemperatureInBounds(t float64) bool {
	return !math.IsNaN(t) && t >= MinTemperature && t <= MaxTemperature
}

// HumidityInBounds reports whether h is a valid relative humidity.
func HumidityInBounds(h float64) bool {
	return !math.IsNaN(h) && h >= MinHumidity && h <= MaxHumidity
}

// WindSpeedInBounds reports whether s is a non-negative wind speed.
func WindSpeedInBounds(s float64) bool {
	return !math.IsNaN(s) && s >= MinWindSpeed
}

// PressurePlausible reports whether p lies in the documented pressure range.
// Rows failing it are flagged, never removed.
func PressurePlausible(p float64) bool {
	return !math.IsNaN(p) && p >= MinPressure && p <= MaxPressure
}

// CheckBounds applies the hard reject rules to an extracted record.
func CheckBounds(r ForecastRecord) error {
	if !TemperatureInBounds(r.Temperature) {
		return &Error{
			Kind:  KindMalformedRecord,
			Op:    "validate",
			Field: FieldTemperature,
			Index: -1,
			Msg:   formatOutOfRange(r.Temperature, MinTemperature, MaxTemperature),
		}
	}
	if !HumidityInBounds(r.Humidity) {
		return &Error{
			Kind:  KindMalformedRecord,
			Op:    "validate",
			Field: FieldHumidity,
			Index: -1,
			Msg:   formatOutOfRange(r.Humidity, MinHumidity, MaxHumidity),
		}
	}
	return nil
}
