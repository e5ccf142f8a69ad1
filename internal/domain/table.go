package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ColumnKind is the value type held by a Column.
type ColumnKind int

const (
	ColumnText ColumnKind = iota
	ColumnNumber
	ColumnTime
)

// Column is one named, typed column. Missing numbers are NaN and missing
// text is the empty string.
type Column struct {
	Name     string
	Kind     ColumnKind
	Text     []string
	Num      []float64
	Time     []time.Time
	Decimals int // fixed decimals when written; -1 for shortest representation
}

// Missing counts absent values in the column.
func (c *Column) Missing() int {
	n := 0
	switch c.Kind {
	case ColumnNumber:
		for _, v := range c.Num {
			if math.IsNaN(v) {
				n++
			}
		}
	case ColumnText:
		for _, v := range c.Text {
			if v == "" {
				n++
			}
		}
	}
	return n
}

func (c *Column) len() int {
	switch c.Kind {
	case ColumnNumber:
		return len(c.Num)
	case ColumnTime:
		return len(c.Time)
	default:
		return len(c.Text)
	}
}

// Cell renders row i for persistence.
func (c *Column) Cell(i int) string {
	switch c.Kind {
	case ColumnNumber:
		v := c.Num[i]
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', c.Decimals, 64)
	case ColumnTime:
		return c.Time[i].Format(TimeLayout)
	default:
		return c.Text[i]
	}
}

func (c *Column) keep(mask []bool) {
	switch c.Kind {
	case ColumnNumber:
		c.Num = filter(c.Num, mask)
	case ColumnTime:
		c.Time = filter(c.Time, mask)
	default:
		c.Text = filter(c.Text, mask)
	}
}

func filter[T any](values []T, mask []bool) []T {
	out := values[:0:0]
	for i, v := range values {
		if mask[i] {
			out = append(out, v)
		}
	}
	return out
}

// Table is a column-oriented, row-aligned dataset.
type Table struct {
	Columns []*Column
	index   map[string]int
}

// NewTable assembles columns of equal length into a table.
func NewTable(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if _, dup := t.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if len(t.Columns) > 0 && c.len() != t.Columns[0].len() {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.len(), t.Columns[0].len())
		}
		t.index[c.Name] = len(t.Columns)
		t.Columns = append(t.Columns, c)
	}
	return t, nil
}

// ParseTable builds a table from a header and string rows. Columns named in
// NumericFields are parsed as numbers; empty cells and "NaN" become missing.
func ParseTable(header []string, rows [][]string) (*Table, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		c := &Column{Name: name, Decimals: -1}
		if NumericFields[name] {
			c.Kind = ColumnNumber
			c.Num = make([]float64, 0, len(rows))
		} else {
			c.Text = make([]string, 0, len(rows))
		}
		cols[j] = c
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, want %d", i+1, len(row), len(header))
		}
		for j, cell := range row {
			c := cols[j]
			if c.Kind == ColumnText {
				c.Text = append(c.Text, cell)
				continue
			}
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i+1, c.Name, err)
			}
			c.Num = append(c.Num, v)
		}
	}
	return NewTable(cols...)
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Len returns the row count.
func (t *Table) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].len()
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.Columns[i], true
}

// Has reports whether the table has a column named name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Keep retains only the rows whose mask entry is true.
func (t *Table) Keep(mask []bool) {
	for _, c := range t.Columns {
		c.keep(mask)
	}
}

// Drop removes a column if present.
func (t *Table) Drop(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
	t.reindex()
}

// Rename maps every column name through fn.
func (t *Table) Rename(fn func(string) string) {
	for _, c := range t.Columns {
		c.Name = fn(c.Name)
	}
	t.reindex()
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c.Name] = i
	}
}

// Rows renders every row as strings in column order.
func (t *Table) Rows() [][]string {
	n := t.Len()
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			row[j] = c.Cell(i)
		}
		out[i] = row
	}
	return out
}

// RecordsTable converts assembled records into a raw table.
func RecordsTable(records []ForecastRecord) *Table {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Values()
	}
	t, err := ParseTable(RawFields, rows)
	if err != nil {
		// Values() always yields parseable cells of the right width.
		panic(err)
	}
	return t
}
