package domain

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// UnknownDescription fills missing weather descriptions ("unknown" in Vietnamese,
// matching the language of upstream descriptions).
const UnknownDescription = "Không xác định"

// Outlier rule names, used as log fields and metric labels.
const (
	RuleTemperature = "temperature"
	RuleHumidity    = "humidity"
	RuleWindSpeed   = "wind_speed"
)

// CleanReport summarises what the cleaning stages changed.
type CleanReport struct {
	InputRows      int
	Imputed        map[string]int // filled cells per column
	DroppedColumns []string       // optional columns with no values at all
	Duplicates     int
	Outliers       map[string]int // removed rows per rule
	Implausible    int            // kept rows with pressure outside [MinPressure, MaxPressure]
	OutputRows     int
}

// CheckSchema fails with KindSchema when any required column is absent,
// naming every missing field.
func CheckSchema(t *Table) error {
	var missing []string
	for _, f := range RequiredFields {
		if !t.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &Error{
			Kind:   KindSchema,
			Op:     "schema",
			Fields: missing,
			Index:  -1,
			Msg:    "required columns missing",
		}
	}
	return nil
}

// Impute resolves missing values column by column. Means and medians are
// taken from the columns as loaded, before any of them is filled. An
// optional column with no values at all is dropped. Pressure with no values
// at all cannot be resolved and fails with KindSchema.
func Impute(t *Table) (map[string]int, []string, error) {
	filled := make(map[string]int)
	var dropped []string

	pressureMean := math.NaN()
	if c, ok := t.Column(FieldPressure); ok {
		pressureMean = mean(c.Num)
	}
	medians := make(map[string]float64)
	for _, f := range []string{FieldWindDirection, FieldCloudCover, FieldVisibility} {
		if c, ok := t.Column(f); ok {
			medians[f] = median(c.Num)
		}
	}

	if c, ok := t.Column(FieldPressure); ok && c.Missing() > 0 {
		if math.IsNaN(pressureMean) {
			return nil, nil, &Error{
				Kind:  KindSchema,
				Op:    "impute",
				Field: FieldPressure,
				Index: -1,
				Msg:   "column has no values to impute from",
			}
		}
		filled[FieldPressure] = fillNum(c, func(int) float64 { return pressureMean })
	}
	if c, ok := t.Column(FieldWindSpeed); ok && c.Missing() > 0 {
		filled[FieldWindSpeed] = fillNum(c, func(int) float64 { return 0 })
	}
	if c, ok := t.Column(FieldDescription); ok && c.Missing() > 0 {
		n := 0
		for i, v := range c.Text {
			if v == "" {
				c.Text[i] = UnknownDescription
				n++
			}
		}
		filled[FieldDescription] = n
	}
	if c, ok := t.Column(FieldFeelsLike); ok && c.Missing() > 0 {
		temp, _ := t.Column(FieldTemperature)
		filled[FieldFeelsLike] = fillNum(c, func(i int) float64 { return temp.Num[i] })
	}
	for _, f := range []string{FieldWindDirection, FieldCloudCover, FieldVisibility} {
		c, ok := t.Column(f)
		if !ok || c.Missing() == 0 {
			continue
		}
		m := medians[f]
		if math.IsNaN(m) {
			t.Drop(f)
			dropped = append(dropped, f)
			continue
		}
		filled[f] = fillNum(c, func(int) float64 { return m })
	}
	return filled, dropped, nil
}

func fillNum(c *Column, value func(i int) float64) int {
	n := 0
	for i, v := range c.Num {
		if math.IsNaN(v) {
			c.Num[i] = value(i)
			n++
		}
	}
	return n
}

// DropDuplicateTimes removes rows whose time label repeats an earlier row and
// returns how many were removed. Applying it twice removes nothing further.
func DropDuplicateTimes(t *Table) int {
	c, ok := t.Column(FieldTime)
	if !ok {
		return 0
	}
	seen := make(map[string]bool, t.Len())
	mask := make([]bool, t.Len())
	removed := 0
	for i := 0; i < t.Len(); i++ {
		key := c.Cell(i)
		if seen[key] {
			removed++
			continue
		}
		seen[key] = true
		mask[i] = true
	}
	if removed > 0 {
		t.Keep(mask)
	}
	return removed
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a forecast time label in any of the accepted layouts as UTC.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseTimes converts the time column from labels into timestamps. Any label
// that cannot be parsed fails the whole table with KindDateParse.
func ParseTimes(t *Table) error {
	c, ok := t.Column(FieldTime)
	if !ok || c.Kind == ColumnTime {
		return nil
	}
	parsed := make([]time.Time, len(c.Text))
	for i, s := range c.Text {
		ts, ok := ParseTime(s)
		if !ok {
			return &Error{
				Kind:  KindDateParse,
				Op:    "parse_time",
				Field: FieldTime,
				Index: i,
				Msg:   "cannot parse " + strconv.Quote(s),
			}
		}
		parsed[i] = ts
	}
	c.Kind = ColumnTime
	c.Time = parsed
	c.Text = nil
	return nil
}

// CountImplausiblePressure counts rows whose pressure falls outside the
// plausible range. The rows stay in the table.
func CountImplausiblePressure(t *Table) int {
	c, ok := t.Column(FieldPressure)
	if !ok {
		return 0
	}
	n := 0
	for _, v := range c.Num {
		if !PressurePlausible(v) {
			n++
		}
	}
	return n
}

// RejectOutliers removes physically impossible rows. Rules apply in order,
// so a row is counted under the first rule it violates. Missing temperature
// or humidity counts as a violation.
func RejectOutliers(t *Table) map[string]int {
	counts := map[string]int{RuleTemperature: 0, RuleHumidity: 0, RuleWindSpeed: 0}
	rules := []struct {
		name  string
		field string
		ok    func(float64) bool
	}{
		{RuleTemperature, FieldTemperature, TemperatureInBounds},
		{RuleHumidity, FieldHumidity, HumidityInBounds},
		{RuleWindSpeed, FieldWindSpeed, WindSpeedInBounds},
	}
	for _, r := range rules {
		c, ok := t.Column(r.field)
		if !ok {
			continue
		}
		mask := make([]bool, len(c.Num))
		removed := 0
		for i, v := range c.Num {
			mask[i] = r.ok(v)
			if !mask[i] {
				removed++
			}
		}
		if removed > 0 {
			t.Keep(mask)
		}
		counts[r.name] = removed
	}
	return counts
}

// Precision is the number of decimals each numeric field is rounded to.
var Precision = map[string]int{
	FieldTemperature:   1,
	FieldFeelsLike:     1,
	FieldHumidity:      0,
	FieldPressure:      0,
	FieldWindSpeed:     2,
	FieldWindDirection: 0,
	FieldCloudCover:    0,
	FieldVisibility:    2,
}

// RoundValues rounds every known numeric column to its field precision.
func RoundValues(t *Table) {
	for field, places := range Precision {
		c, ok := t.Column(field)
		if !ok || c.Kind != ColumnNumber {
			continue
		}
		for i, v := range c.Num {
			c.Num[i] = Round(v, places)
		}
		c.Decimals = places
	}
}

// Round rounds v to places decimals, half to even on the exact binary value.
// Negative zero is normalised to zero.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil || r == 0 {
		return 0
	}
	return r
}

// RenameToDisplay renames internal columns to display labels. Unmapped
// columns keep their names.
func RenameToDisplay(t *Table, m *FieldMapping) {
	t.Rename(m.ToDisplay)
}

// RenameToInternal reverses RenameToDisplay.
func RenameToInternal(t *Table, m *FieldMapping) {
	t.Rename(m.ToInternal)
}

// CleanedRows converts an internally named, fully cleaned table into rows.
func CleanedRows(t *Table) []CleanedRow {
	n := t.Len()
	rows := make([]CleanedRow, n)
	get := func(name string) *Column {
		c, _ := t.Column(name)
		return c
	}
	timeCol := get(FieldTime)
	temp, feels := get(FieldTemperature), get(FieldFeelsLike)
	hum, pres := get(FieldHumidity), get(FieldPressure)
	speed, deg := get(FieldWindSpeed), get(FieldWindDirection)
	clouds, vis := get(FieldCloudCover), get(FieldVisibility)
	desc, city := get(FieldDescription), get(FieldCity)

	for i := range rows {
		r := &rows[i]
		if timeCol != nil && timeCol.Kind == ColumnTime {
			r.Time = timeCol.Time[i]
		}
		r.Temperature = numAt(temp, i)
		r.Humidity = int(numAt(hum, i))
		r.Pressure = int(numAt(pres, i))
		r.WindSpeed = numAt(speed, i)
		if feels != nil {
			v := feels.Num[i]
			r.FeelsLike = &v
		}
		if deg != nil {
			v := int(deg.Num[i])
			r.WindDirection = &v
		}
		if clouds != nil {
			v := int(clouds.Num[i])
			r.CloudCover = &v
		}
		if vis != nil {
			v := vis.Num[i]
			r.Visibility = &v
		}
		if desc != nil {
			r.Description = desc.Text[i]
		}
		if city != nil && city.Kind == ColumnText {
			r.City = city.Text[i]
		}
	}
	return rows
}

func numAt(c *Column, i int) float64 {
	if c == nil || c.Kind != ColumnNumber {
		return 0
	}
	return c.Num[i]
}

func mean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func median(values []float64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return math.NaN()
	}
	sort.Float64s(present)
	mid := len(present) / 2
	if len(present)%2 == 1 {
		return present[mid]
	}
	return (present[mid-1] + present[mid]) / 2
}
