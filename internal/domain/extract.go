package domain

import (
	"encoding/json"
	"fmt"
)

// ForecastResponse is the decoded upstream forecast envelope. Entries are
// kept as loose maps so every structural defect can be reported per entry
// instead of failing the whole decode.
type ForecastResponse struct {
	Entries []any
	City    *CityInfo
}

// CityInfo is the optional upstream city block.
type CityInfo struct {
	Name     string
	Country  string
	Timezone int
}

// Rejection describes one upstream entry that did not become a record.
type Rejection struct {
	Index  int
	Field  string
	Reason string
}

// ExtractForecast runs ExtractRecord over every entry. Rejected entries are
// collected and never abort the batch.
func ExtractForecast(resp ForecastResponse, city string) ([]ForecastRecord, []Rejection) {
	records := make([]ForecastRecord, 0, len(resp.Entries))
	var rejected []Rejection
	for i, raw := range resp.Entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			rejected = append(rejected, Rejection{Index: i, Reason: "entry is not an object"})
			continue
		}
		rec, err := ExtractRecord(entry, i, city)
		if err != nil {
			rejected = append(rejected, rejectionFrom(err, i))
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func rejectionFrom(err error, index int) Rejection {
	if e, ok := err.(*Error); ok {
		return Rejection{Index: index, Field: e.Field, Reason: e.Msg}
	}
	return Rejection{Index: index, Reason: err.Error()}
}

// ExtractRecord flattens one upstream forecast entry into a ForecastRecord.
//
// The entry must carry dt_txt, a main group with numeric temp and humidity,
// a wind group and a non-empty weather list whose first element has a
// description. Optional values that are absent become missing measurements.
// Visibility is converted from metres to kilometres. Temperature and humidity
// outside physical bounds reject the entry.
func ExtractRecord(entry map[string]any, index int, city string) (ForecastRecord, error) {
	reject := func(field, format string, args ...any) (ForecastRecord, error) {
		return ForecastRecord{}, &Error{
			Kind:  KindMalformedRecord,
			Op:    "extract",
			City:  city,
			Field: field,
			Index: index,
			Msg:   fmt.Sprintf(format, args...),
		}
	}

	ts, ok := getString(entry, "dt_txt")
	if !ok || ts == "" {
		return reject(FieldTime, "missing timestamp")
	}

	main, ok := getMap(entry, "main")
	if !ok {
		return reject("main", "missing main group")
	}
	temp, present, valid := getNumber(main, "temp")
	if !present || !valid {
		return reject(FieldTemperature, "missing or non-numeric temperature")
	}
	humidity, present, valid := getNumber(main, "humidity")
	if !present || !valid {
		return reject(FieldHumidity, "missing or non-numeric humidity")
	}

	wind, ok := getMap(entry, "wind")
	if !ok {
		return reject("wind", "missing wind group")
	}

	weather, ok := getFirstInArray(entry, "weather")
	if !ok {
		return reject("weather", "missing or empty weather list")
	}
	desc, ok := getString(weather, "description")
	if !ok {
		return reject(FieldDescription, "weather entry has no description")
	}

	rec := ForecastRecord{
		Time:        ts,
		Temperature: temp,
		FeelsLike:   temp,
		Humidity:    humidity,
		Description: desc,
	}

	var err error
	if rec.FeelsLike, err = optionalNumberOr(main, "feels_like", temp); err != nil {
		return reject(FieldFeelsLike, "%v", err)
	}
	if rec.Pressure, err = optionalMeasurement(main, "pressure"); err != nil {
		return reject(FieldPressure, "%v", err)
	}
	if rec.WindSpeed, err = optionalNumberOr(wind, "speed", 0); err != nil {
		return reject(FieldWindSpeed, "%v", err)
	}
	if rec.WindDirection, err = optionalMeasurement(wind, "deg"); err != nil {
		return reject(FieldWindDirection, "%v", err)
	}
	if rec.CloudCover, err = cloudCover(entry); err != nil {
		return reject(FieldCloudCover, "%v", err)
	}
	vis, err := optionalMeasurement(entry, "visibility")
	if err != nil {
		return reject(FieldVisibility, "%v", err)
	}
	if vis.Valid {
		vis.Value /= 1000
	}
	rec.Visibility = vis

	if err := CheckBounds(rec); err != nil {
		e := err.(*Error)
		e.Op = "extract"
		e.City = city
		e.Index = index
		return ForecastRecord{}, e
	}
	return rec, nil
}

// clouds is either {"all": n} or a bare number.
func cloudCover(entry map[string]any) (Measurement, error) {
	v, ok := entry["clouds"]
	if !ok || v == nil {
		return None, nil
	}
	if m, ok := v.(map[string]any); ok {
		return optionalMeasurement(m, "all")
	}
	n, ok := toFloat(v)
	if !ok {
		return None, fmt.Errorf("clouds has unexpected type %T", v)
	}
	return Some(n), nil
}

func optionalMeasurement(m map[string]any, key string) (Measurement, error) {
	n, present, valid := getNumber(m, key)
	if !present {
		return None, nil
	}
	if !valid {
		return None, fmt.Errorf("%s is not numeric", key)
	}
	return Some(n), nil
}

func optionalNumberOr(m map[string]any, key string, def float64) (float64, error) {
	v, err := optionalMeasurement(m, key)
	if err != nil {
		return 0, err
	}
	if !v.Valid {
		return def, nil
	}
	return v.Value, nil
}

// Loose accessors over decoded JSON.

func getMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func getFirstInArray(m map[string]any, key string) (map[string]any, bool) {
	arr, ok := m[key].([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	first, ok := arr[0].(map[string]any)
	return first, ok
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// getNumber reports whether key is present (non-null) and whether it holds a number.
func getNumber(m map[string]any, key string) (value float64, present, valid bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, false
	}
	n, ok := toFloat(v)
	return n, true, ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
