// Command forecast runs one-shot forecast jobs from the command line.
//
// Usage:
//
//	forecast refresh [-all] [city...]      fetch and clean forecasts
//	forecast stats [-json] city            statistics, trends and summary
//	forecast compare [-metric temp] [city...]
//
// Cities default to DEFAULT_CITY for refresh and stats and to every
// configured city for compare.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/couchcryptid/forecast-etl/internal/app"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/couchcryptid/forecast-etl/internal/stats"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: forecast refresh|stats|compare [flags] [city...]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger, err := observability.NewLogger(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck // nothing useful to do on exit

	ctx := context.Background()
	a, err := app.New(ctx, cfg, nil, clockwork.NewRealClock(), logger, observability.NewMetricsForTesting())
	if err != nil {
		fmt.Fprintf(stderr, "failed to start: %v\n", err)
		return 1
	}
	defer a.Close() //nolint:errcheck // process is exiting

	switch args[0] {
	case "refresh":
		return refresh(ctx, a, args[1:], stdout, stderr)
	case "stats":
		return describe(a, args[1:], stdout, stderr)
	case "compare":
		return compare(a, args[1:], stdout, stderr, logger)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}
}

func refresh(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	all := fs.Bool("all", false, "refresh every configured city")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cities := fs.Args()
	switch {
	case *all:
		cities = a.Config.CityNames()
	case len(cities) == 0:
		cities = []string{a.Config.DefaultCity}
	}

	code := 0
	for _, st := range a.Runner.RefreshAll(ctx, cities) {
		if st.State == pipeline.StateFailed {
			code = 1
			fmt.Fprintf(stdout, "✗ %s: %s\n  hint: %s\n", st.City, st.Message, st.Hint)
			continue
		}
		fmt.Fprintf(stdout, "✓ %s: %d rows (%d rejected) -> %s\n", st.City, st.CleanRows, st.Rejected, st.Path)
	}
	return code
}

func describe(a *app.App, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	name := a.Config.DefaultCity
	if fs.NArg() > 0 {
		name = strings.Join(fs.Args(), " ")
	}

	city, err := a.Pipeline.Resolve(name)
	if err != nil {
		return fail(stderr, err)
	}
	t, err := a.Store.ReadCleaned(city.Name)
	if err != nil {
		return fail(stderr, err)
	}
	report := stats.Describe(city.Name, t)
	if *asJSON {
		return printJSON(stdout, stderr, report)
	}

	s := report.Summary
	fmt.Fprintf(stdout, "%s: %d points from %s to %s\n", report.City, s.Points,
		s.From.Format(domain.TimeLayout), s.To.Format(domain.TimeLayout))
	fmt.Fprintf(stdout, "temperature %.1f°C (%.1f to %.1f), humidity %.0f%%, wind %.2f m/s\n",
		s.Temperature.Mean, s.Temperature.Min, s.Temperature.Max, s.Humidity.Mean, s.WindSpeed.Mean)
	fmt.Fprintf(stdout, "most common: %s\n\n", s.MostCommon)

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "field\tcount\tmean\tmin\tmax\tstd\tmedian\tq25\tq75\ttrend")
	for _, field := range stats.Fields {
		c, ok := report.Columns[field]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			field, c.Count, c.Mean, c.Min, c.Max, c.Std, c.Median, c.Q25, c.Q75, report.Trends[field])
	}
	tw.Flush() //nolint:errcheck // stdout
	return 0
}

func compare(a *app.App, args []string, stdout, stderr io.Writer, logger *zap.Logger) int {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	metric := fs.String("metric", domain.FieldTemperature, "metric: "+strings.Join(stats.Fields, ", "))
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cities := a.Config.CityNames()
	if fs.NArg() > 0 {
		cities = cities[:0:0]
		for _, name := range fs.Args() {
			city, err := a.Pipeline.Resolve(name)
			if err != nil {
				return fail(stderr, err)
			}
			cities = append(cities, city.Name)
		}
	}

	cmp, err := stats.Compare(a.Store, cities, *metric, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if len(cmp.Ranking) == 0 {
		fmt.Fprintln(stderr, "no cleaned forecasts to compare; run refresh first")
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tcity\tmean\tmin\tmax\tmedian\tstd\tpoints")
	for _, r := range cmp.Ranking {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%d\n", r.Rank, r.City, r.Mean, r.Min, r.Max, r.Median, r.Std, r.Points)
	}
	tw.Flush() //nolint:errcheck // stdout
	fmt.Fprintf(stdout, "\nhighest: %s (%.2f)\nlowest:  %s (%.2f)\n", cmp.Highest.City, cmp.Highest.Mean, cmp.Lowest.City, cmp.Lowest.Mean)
	if len(cmp.Missing) > 0 {
		sort.Strings(cmp.Missing)
		fmt.Fprintf(stdout, "no data: %s\n", strings.Join(cmp.Missing, ", "))
	}
	return 0
}

func fail(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\nhint: %s\n", err, domain.KindOf(err).Hint())
	return 1
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
