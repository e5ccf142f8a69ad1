// Command validate checks cleaned forecast CSVs against the guarantees the
// cleaner makes: display-labelled header with every required column, no
// missing values, unique parseable timestamps, values within physical
// bounds and rounded to their field precision.
//
// Usage:
//
//	go run ./cmd/validate data/processed/weather_clean_ha_noi.csv
//	go run ./cmd/validate -data-dir data
package main

import (
	"bytes"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "", "validate every cleaned CSV under this data directory")
	flag.Parse()

	files := flag.Args()
	if *dataDir != "" {
		matches, err := filepath.Glob(filepath.Join(*dataDir, "processed", "weather_clean_*.csv"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	code := 0
	for _, f := range files {
		if !report(f) {
			code = 1
		}
	}
	os.Exit(code)
}

// report validates one file and prints its phases. Returns false on failure.
func report(path string) bool {
	fmt.Printf("=== %s ===\n", path)
	header, rows, err := loadCSV(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return false
	}

	phases := validate(header, rows, domain.DefaultFieldMapping())
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-30s %s\n", p.name, status)
	}
	fmt.Printf("Rows: %d\n", len(rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Printf("  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}
	fmt.Println()
	return allPassed
}

func loadCSV(path string) ([]string, [][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s has no header", path)
	}
	return records[0], records[1:], nil
}

// validate runs every phase over a cleaned table given as display-labelled
// header and string rows.
func validate(header []string, rows [][]string, m *domain.FieldMapping) []*phase {
	fields := m.ToInternalAll(header)
	col := make(map[string]int, len(fields))
	for i, f := range fields {
		col[f] = i
	}
	return []*phase{
		validateHeader(header, fields, m),
		validateValues(fields, rows),
		validateTimestamps(col, rows),
		validateBounds(col, rows),
		validatePrecision(fields, rows),
	}
}

func validateHeader(header, fields []string, m *domain.FieldMapping) *phase {
	p := &phase{name: "Header"}
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if f == header[i] && m.ToDisplay(f) != f {
			p.errorf("column %q uses the internal name, want %q", f, m.ToDisplay(f))
		} else if m.ToDisplay(f) == f {
			p.errorf("column %q is not a known field", header[i])
		}
		if seen[f] {
			p.errorf("column %q appears twice", header[i])
		}
		seen[f] = true
	}
	for _, f := range domain.RequiredFields {
		if !seen[f] {
			p.errorf("required column %q missing", m.ToDisplay(f))
		}
	}
	return p
}

func validateValues(fields []string, rows [][]string) *phase {
	p := &phase{name: "Completeness"}
	if len(rows) == 0 {
		p.errorf("no rows")
	}
	for i, row := range rows {
		if len(row) != len(fields) {
			p.errorf("row %d: %d fields, want %d", i+1, len(row), len(fields))
			continue
		}
		for j, cell := range row {
			if strings.TrimSpace(cell) == "" {
				p.errorf("row %d: %s is empty", i+1, fields[j])
				continue
			}
			if domain.NumericFields[fields[j]] {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					p.errorf("row %d: %s=%q is not a number", i+1, fields[j], cell)
				}
			}
		}
	}
	return p
}

func validateTimestamps(col map[string]int, rows [][]string) *phase {
	p := &phase{name: "Timestamps"}
	idx, ok := col[domain.FieldTime]
	if !ok {
		p.errorf("no time column")
		return p
	}
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if idx >= len(row) {
			continue
		}
		label := row[idx]
		ts, ok := domain.ParseTime(label)
		if !ok {
			p.errorf("row %d: cannot parse time %q", i+1, label)
			continue
		}
		if got := ts.Format(domain.TimeLayout); got != label {
			p.errorf("row %d: time %q is not in canonical form %q", i+1, label, got)
		}
		if first, dup := seen[label]; dup {
			p.errorf("row %d: time %s duplicates row %d", i+1, label, first)
		}
		seen[label] = i + 1
	}
	return p
}

func validateBounds(col map[string]int, rows [][]string) *phase {
	p := &phase{name: "Physical bounds"}
	checks := []struct {
		field string
		ok    func(float64) bool
	}{
		{domain.FieldTemperature, domain.TemperatureInBounds},
		{domain.FieldHumidity, domain.HumidityInBounds},
		{domain.FieldWindSpeed, domain.WindSpeedInBounds},
	}
	for _, c := range checks {
		idx, ok := col[c.field]
		if !ok {
			continue
		}
		for i, row := range rows {
			if idx >= len(row) {
				continue
			}
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				continue
			}
			if !c.ok(v) {
				p.errorf("row %d: %s=%s out of bounds", i+1, c.field, row[idx])
			}
		}
	}
	return p
}

func validatePrecision(fields []string, rows [][]string) *phase {
	p := &phase{name: "Precision"}
	for j, f := range fields {
		places, ok := domain.Precision[f]
		if !ok {
			continue
		}
		for i, row := range rows {
			if j >= len(row) {
				continue
			}
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil || math.IsNaN(v) {
				continue
			}
			if domain.Round(v, places) != v {
				p.errorf("row %d: %s=%s has more than %d decimals", i+1, f, row[j], places)
			}
		}
	}
	return p
}
