package stats

import (
	"errors"
	"fmt"
	"sort"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"go.uber.org/zap"
)

// TableReader loads the cleaned table for a city with internal column names.
type TableReader interface {
	ReadCleaned(city string) (*domain.Table, error)
}

// Ranked is one city's line in a comparison.
type Ranked struct {
	Rank   int     `json:"rank"`
	City   string  `json:"city"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Points int     `json:"points"`
}

// Extreme names the city holding the highest or lowest mean.
type Extreme struct {
	City string  `json:"city"`
	Mean float64 `json:"mean"`
}

// Comparison ranks cities on one metric by mean, highest first.
type Comparison struct {
	Metric  string   `json:"metric"`
	Ranking []Ranked `json:"ranking"`
	Highest *Extreme `json:"highest,omitempty"`
	Lowest  *Extreme `json:"lowest,omitempty"`
	Missing []string `json:"missing,omitempty"` // cities without a readable cleaned file
}

// Compare loads each city's cleaned table and ranks the cities on metric.
// Cities whose table cannot be read are listed in Missing and logged; they
// never fail the comparison.
func Compare(reader TableReader, cities []string, metric string, logger *zap.Logger) (Comparison, error) {
	if !IsField(metric) {
		return Comparison{}, fmt.Errorf("%w %q", ErrUnknownMetric, metric)
	}
	out := Comparison{Metric: metric, Ranking: make([]Ranked, 0, len(cities))}

	for _, city := range cities {
		t, err := reader.ReadCleaned(city)
		if err != nil {
			level := logger.Warn
			if errors.Is(err, domain.ErrMissingInput) {
				level = logger.Info
			}
			level("city skipped in comparison", zap.String("city", city), zap.Error(err))
			out.Missing = append(out.Missing, city)
			continue
		}
		s, ok := numbers(t, metric)
		if !ok || s.Len() == 0 {
			logger.Warn("city has no values for metric", zap.String("city", city), zap.String("metric", metric))
			out.Missing = append(out.Missing, city)
			continue
		}
		col := describe(s)
		out.Ranking = append(out.Ranking, Ranked{
			City:   city,
			Mean:   col.Mean,
			Min:    col.Min,
			Max:    col.Max,
			Median: col.Median,
			Std:    col.Std,
			Points: t.Len(),
		})
	}

	sort.SliceStable(out.Ranking, func(i, j int) bool {
		return out.Ranking[i].Mean > out.Ranking[j].Mean
	})
	for i := range out.Ranking {
		out.Ranking[i].Rank = i + 1
	}
	if n := len(out.Ranking); n > 0 {
		out.Highest = &Extreme{City: out.Ranking[0].City, Mean: out.Ranking[0].Mean}
		out.Lowest = &Extreme{City: out.Ranking[n-1].City, Mean: out.Ranking[n-1].Mean}
	}
	return out, nil
}
