// Command genmock runs a saved OpenWeatherMap forecast response through the
// real extractor, assembler and cleaner, producing raw and cleaned CSV
// fixtures plus an optional JSON fixture of the cleaned rows. No network
// access or API key is needed.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -in internal/pipeline/testdata/forecast_hanoi.json \
//	  -city "Hà Nội" \
//	  -data-dir data/mock \
//	  -json-out data/mock/forecast_hanoi_cleaned.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/forecast-etl/internal/adapter/owm"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/couchcryptid/forecast-etl/internal/stats"
	"github.com/jonboulle/clockwork"
)

// Fixed clock for reproducible fetched/cleaned timestamps.
var fixtureTime = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "path to a saved forecast JSON response")
	city := flag.String("city", "Hà Nội", "city identity the rows are tagged with")
	dataDir := flag.String("data-dir", "data/mock", "directory the raw and cleaned CSVs are written under")
	jsonOut := flag.String("json-out", "", "optional output path for the cleaned rows as JSON")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	logger, err := observability.NewLogger("warn", "console")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // nothing useful to do on exit

	clock := clockwork.NewFakeClockAt(fixtureTime)
	metrics := observability.NewMetricsForTesting()
	mapping := domain.DefaultFieldMapping()
	store := csvstore.New(*dataDir, mapping, logger)
	cities := &config.Config{Cities: []config.City{{Name: *city, Query: *city}}}

	p := pipeline.New(
		cities,
		owm.NewFileSource(*in),
		pipeline.NewAssembler(store, clock, logger, metrics),
		pipeline.NewCleaner(store, mapping, clock, logger, metrics),
		nil,
		clock,
		logger,
		metrics,
	)

	res, err := p.RunCycle(context.Background(), *city)
	if err != nil {
		return fmt.Errorf("run pipeline: %w (hint: %s)", err, domain.KindOf(err).Hint())
	}
	log.Printf("%s: %d records extracted, %d rejected, %d duplicates dropped",
		res.City, len(res.Raw.Records)+res.Raw.Dropped, len(res.Rejected), res.Raw.Dropped)
	for _, r := range res.Rejected {
		log.Printf("  rejected entry %d: %s %s", r.Index, r.Field, r.Reason)
	}
	log.Printf("wrote raw fixture: %s", res.Raw.Path)
	log.Printf("wrote cleaned fixture: %s (%d rows)", res.Cleaned.Path, res.Cleaned.Len())

	if *jsonOut != "" {
		if err := writeJSON(*jsonOut, res.Cleaned.Rows); err != nil {
			return fmt.Errorf("writing JSON fixture: %w", err)
		}
		log.Printf("wrote JSON fixture: %s", *jsonOut)
	}

	t, err := store.ReadCleaned(res.City)
	if err != nil {
		return fmt.Errorf("re-read cleaned fixture: %w", err)
	}
	printReport(stats.Describe(res.City, t), res.Cleaned.Report)
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printReport(r stats.Report, clean domain.CleanReport) {
	fmt.Printf("\n=== %s ===\n", r.City)
	fmt.Printf("rows: %d in, %d out, %d duplicate timestamps\n", clean.InputRows, clean.OutputRows, clean.Duplicates)
	for _, rule := range []string{domain.RuleTemperature, domain.RuleHumidity, domain.RuleWindSpeed} {
		if n := clean.Outliers[rule]; n > 0 {
			fmt.Printf("outliers (%s): %d\n", rule, n)
		}
	}
	for _, field := range domain.RawFields {
		if n := clean.Imputed[field]; n > 0 {
			fmt.Printf("imputed (%s): %d\n", field, n)
		}
	}
	fmt.Printf("from %s to %s, most common: %s\n",
		r.Summary.From.Format(domain.TimeLayout), r.Summary.To.Format(domain.TimeLayout), r.Summary.MostCommon)
	for _, field := range stats.Fields {
		c := r.Columns[field]
		fmt.Printf("  %-10s mean %.2f  min %.2f  max %.2f  trend %s\n", field, c.Mean, c.Min, c.Max, r.Trends[field])
	}
}

