// Package stats summarises cleaned forecast tables: per-column statistics,
// first-to-last trends, a short weather summary and cross-city comparison.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/go-gota/gota/series"
)

// Fields are the columns statistics and trends are computed for.
var Fields = []string{
	domain.FieldTemperature,
	domain.FieldHumidity,
	domain.FieldPressure,
	domain.FieldWindSpeed,
}

// ErrUnknownMetric is returned when a metric is not one of Fields.
var ErrUnknownMetric = errors.New("unknown metric")

// Trend directions.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// Column holds descriptive statistics for one numeric column, rounded to
// two decimals.
type Column struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

// Trend compares the last value of a column with the first.
type Trend struct {
	Direction string  `json:"direction"`
	ChangePct float64 `json:"change_pct"` // absolute change relative to the first value, 1 dp
}

func (t Trend) String() string {
	switch t.Direction {
	case "":
		return "-"
	case TrendStable:
		return TrendStable
	}
	return fmt.Sprintf("%s (%.1f%%)", t.Direction, t.ChangePct)
}

// Range is a mean/min/max triple at a field's display precision.
type Range struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Spread float64 `json:"spread"`
}

// Summary is a short human-oriented overview of a forecast.
type Summary struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Points      int       `json:"points"`
	Temperature Range     `json:"temperature"`
	Humidity    Range     `json:"humidity"`
	WindSpeed   Range     `json:"wind_speed"`
	MostCommon  string    `json:"most_common"`
}

// Report bundles everything computed for one city.
type Report struct {
	City    string            `json:"city"`
	Columns map[string]Column `json:"columns"`
	Trends  map[string]Trend  `json:"trends"`
	Summary Summary           `json:"summary"`
}

// Describe computes statistics, trends and the summary for a cleaned table
// with internal column names.
func Describe(city string, t *domain.Table) Report {
	r := Report{
		City:    city,
		Columns: make(map[string]Column, len(Fields)),
		Trends:  make(map[string]Trend, len(Fields)),
	}
	for _, field := range Fields {
		s, ok := numbers(t, field)
		if !ok {
			continue
		}
		r.Columns[field] = describe(s)
		if t.Len() > 1 {
			r.Trends[field] = trend(s)
		}
	}
	r.Summary = summarize(t)
	return r
}

// numbers returns the non-missing values of a numeric column as a series.
func numbers(t *domain.Table, field string) (series.Series, bool) {
	c, ok := t.Column(field)
	if !ok || c.Kind != domain.ColumnNumber {
		return series.Series{}, false
	}
	values := make([]float64, 0, len(c.Num))
	for _, v := range c.Num {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	return series.New(values, series.Float, field), true
}

func describe(s series.Series) Column {
	if s.Len() == 0 {
		return Column{}
	}
	values := s.Float()
	col := Column{
		Count:  s.Len(),
		Mean:   round2(s.Mean()),
		Min:    round2(s.Min()),
		Max:    round2(s.Max()),
		Median: round2(s.Median()),
		Q25:    round2(quantile(values, 0.25)),
		Q75:    round2(quantile(values, 0.75)),
	}
	if s.Len() > 1 {
		col.Std = round2(s.StdDev())
	}
	return col
}

// quantile interpolates linearly between the closest ranks.
func quantile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func trend(s series.Series) Trend {
	values := s.Float()
	if len(values) < 2 {
		return Trend{Direction: TrendStable}
	}
	first, last := values[0], values[len(values)-1]
	pct := 0.0
	if first != 0 {
		pct = domain.Round(math.Abs(last-first)/math.Abs(first)*100, 1)
	}
	switch {
	case last > first:
		return Trend{Direction: TrendUp, ChangePct: pct}
	case last < first:
		return Trend{Direction: TrendDown, ChangePct: pct}
	default:
		return Trend{Direction: TrendStable}
	}
}

func summarize(t *domain.Table) Summary {
	sum := Summary{Points: t.Len()}
	if c, ok := t.Column(domain.FieldTime); ok && c.Kind == domain.ColumnTime && len(c.Time) > 0 {
		sum.From, sum.To = c.Time[0], c.Time[0]
		for _, ts := range c.Time[1:] {
			if ts.Before(sum.From) {
				sum.From = ts
			}
			if ts.After(sum.To) {
				sum.To = ts
			}
		}
	}
	sum.Temperature = rangeOf(t, domain.FieldTemperature, 1)
	sum.Humidity = rangeOf(t, domain.FieldHumidity, 0)
	sum.WindSpeed = rangeOf(t, domain.FieldWindSpeed, 2)
	if c, ok := t.Column(domain.FieldDescription); ok && c.Kind == domain.ColumnText {
		sum.MostCommon = mostCommon(c.Text)
	}
	return sum
}

func rangeOf(t *domain.Table, field string, places int) Range {
	s, ok := numbers(t, field)
	if !ok || s.Len() == 0 {
		return Range{}
	}
	lo, hi := s.Min(), s.Max()
	return Range{
		Mean:   domain.Round(s.Mean(), places),
		Min:    domain.Round(lo, places),
		Max:    domain.Round(hi, places),
		Spread: domain.Round(hi-lo, places),
	}
}

// mostCommon returns the most frequent non-empty value. Ties go to the
// value seen first.
func mostCommon(values []string) string {
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
	}
	for _, v := range values {
		if n := counts[v]; n > bestN {
			best, bestN = v, n
		}
	}
	return best
}

func round2(v float64) float64 {
	return domain.Round(v, 2)
}

// IsField reports whether metric is one of Fields.
func IsField(metric string) bool {
	for _, f := range Fields {
		if f == metric {
			return true
		}
	}
	return false
}
