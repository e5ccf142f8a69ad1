package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Measurement is an optional numeric value. It is comparable so records can
// be deduplicated by value.
type Measurement struct {
	Value float64
	Valid bool
}

// Some returns a present measurement.
func Some(v float64) Measurement { return Measurement{Value: v, Valid: true} }

// None is a missing measurement.
var None = Measurement{}

// Float returns the value, or NaN when missing.
func (m Measurement) Float() float64 {
	if !m.Valid {
		return math.NaN()
	}
	return m.Value
}

// ForecastRecord is one accepted 3-hour forecast step.
type ForecastRecord struct {
	Time          string
	Temperature   float64
	FeelsLike     float64
	Humidity      float64
	Pressure      Measurement
	WindSpeed     float64
	WindDirection Measurement
	CloudCover    Measurement
	Visibility    Measurement // kilometres
	Description   string
	City          string
}

// Values renders the record as cells in RawFields order. Missing values are
// empty strings.
func (r ForecastRecord) Values() []string {
	return []string{
		r.Time,
		formatFloat(r.Temperature),
		formatFloat(r.FeelsLike),
		formatFloat(r.Humidity),
		formatMeasurement(r.Pressure),
		formatFloat(r.WindSpeed),
		formatMeasurement(r.WindDirection),
		formatMeasurement(r.CloudCover),
		formatMeasurement(r.Visibility),
		r.Description,
		r.City,
	}
}

// RawDataset is the assembled, city-tagged snapshot of one fetch.
type RawDataset struct {
	City      string
	Records   []ForecastRecord
	Rejected  int
	Dropped   int // exact duplicates removed
	FetchedAt time.Time
	Path      string
}

// CleanedRow is one row of a cleaned dataset keyed by internal field name.
type CleanedRow struct {
	Time          time.Time `json:"dt_txt"`
	Temperature   float64   `json:"temp"`
	FeelsLike     *float64  `json:"feels_like,omitempty"`
	Humidity      int       `json:"humidity"`
	Pressure      int       `json:"pressure"`
	WindSpeed     float64   `json:"wind_speed"`
	WindDirection *int      `json:"wind_deg,omitempty"`
	CloudCover    *int      `json:"clouds,omitempty"`
	Visibility    *float64  `json:"visibility,omitempty"`
	Description   string    `json:"description"`
	City          string    `json:"city_name,omitempty"`
}

// CleanedDataset is the validated, imputed, rounded result of one cleaning run.
type CleanedDataset struct {
	City    string
	Table   *Table // display-named columns, as persisted
	Rows    []CleanedRow
	Report  CleanReport
	Path    string
	Cleaned time.Time
}

// Len returns the number of rows.
func (d CleanedDataset) Len() int { return len(d.Rows) }

// TimeLayout is the canonical time label format written to the cleaned artifact.
const TimeLayout = "2006-01-02 15:04:05"

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatMeasurement(m Measurement) string {
	if !m.Valid {
		return ""
	}
	return formatFloat(m.Value)
}

func formatOutOfRange(v, lo, hi float64) string {
	return fmt.Sprintf("value %s outside [%s, %s]", formatFloat(v), formatFloat(lo), formatFloat(hi))
}
