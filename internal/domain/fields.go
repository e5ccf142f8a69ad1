package domain

import "fmt"

// Internal field identifiers used as raw CSV headers and JSON keys.
const (
	FieldTime          = "dt_txt"
	FieldTemperature   = "temp"
	FieldFeelsLike     = "feels_like"
	FieldHumidity      = "humidity"
	FieldPressure      = "pressure"
	FieldWindSpeed     = "wind_speed"
	FieldWindDirection = "wind_deg"
	FieldCloudCover    = "clouds"
	FieldVisibility    = "visibility"
	FieldDescription   = "description"
	FieldCity          = "city_name"
)

// RawFields is the column order of the raw artifact.
var RawFields = []string{
	FieldTime,
	FieldTemperature,
	FieldFeelsLike,
	FieldHumidity,
	FieldPressure,
	FieldWindSpeed,
	FieldWindDirection,
	FieldCloudCover,
	FieldVisibility,
	FieldDescription,
	FieldCity,
}

// RequiredFields must be present as columns before a raw table can be cleaned.
var RequiredFields = []string{
	FieldTime,
	FieldTemperature,
	FieldHumidity,
	FieldPressure,
	FieldWindSpeed,
	FieldDescription,
}

// NumericFields are parsed as floats when a raw table is loaded.
var NumericFields = map[string]bool{
	FieldTemperature:   true,
	FieldFeelsLike:     true,
	FieldHumidity:      true,
	FieldPressure:      true,
	FieldWindSpeed:     true,
	FieldWindDirection: true,
	FieldCloudCover:    true,
	FieldVisibility:    true,
}

// FieldLabel pairs an internal identifier with its display label.
type FieldLabel struct {
	Field string
	Label string
}

var defaultLabels = []FieldLabel{
	{FieldTime, "Thời Gian"},
	{FieldTemperature, "Nhiệt Độ"},
	{FieldFeelsLike, "Nhiệt Độ Cảm Nhận"},
	{FieldHumidity, "Độ Ẩm"},
	{FieldPressure, "Áp Suất"},
	{FieldWindSpeed, "Tốc Gió"},
	{FieldWindDirection, "Hướng Gió"},
	{FieldCloudCover, "Độ Che Phủ Mây"},
	{FieldVisibility, "Tầm Nhìn"},
	{FieldDescription, "Mô Tả"},
	{FieldCity, "Thành Phố"},
}

// FieldMapping is an immutable bijection between internal identifiers and
// display labels.
type FieldMapping struct {
	pairs     []FieldLabel
	toDisplay map[string]string
	toField   map[string]string
}

// NewFieldMapping validates pairs and builds a mapping. Every field and every
// label must be non-empty and appear exactly once, and every raw field must be
// covered.
func NewFieldMapping(pairs []FieldLabel) (*FieldMapping, error) {
	m := &FieldMapping{
		pairs:     append([]FieldLabel(nil), pairs...),
		toDisplay: make(map[string]string, len(pairs)),
		toField:   make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		if p.Field == "" || p.Label == "" {
			return nil, fmt.Errorf("field mapping: empty entry %q -> %q", p.Field, p.Label)
		}
		if _, dup := m.toDisplay[p.Field]; dup {
			return nil, fmt.Errorf("field mapping: field %q mapped twice", p.Field)
		}
		if other, dup := m.toField[p.Label]; dup {
			return nil, fmt.Errorf("field mapping: label %q used by %q and %q", p.Label, other, p.Field)
		}
		m.toDisplay[p.Field] = p.Label
		m.toField[p.Label] = p.Field
	}
	for _, f := range RawFields {
		if _, ok := m.toDisplay[f]; !ok {
			return nil, fmt.Errorf("field mapping: no label for field %q", f)
		}
	}
	return m, nil
}

// DefaultFieldMapping returns the built-in Vietnamese display vocabulary.
// It panics if the built-in table is inconsistent, which is a programming error.
func DefaultFieldMapping() *FieldMapping {
	m, err := NewFieldMapping(defaultLabels)
	if err != nil {
		panic(err)
	}
	return m
}

// ToDisplay returns the label for field, or field itself when unmapped.
func (m *FieldMapping) ToDisplay(field string) string {
	if l, ok := m.toDisplay[field]; ok {
		return l
	}
	return field
}

// ToInternal returns the field for label, or label itself when unmapped.
func (m *FieldMapping) ToInternal(label string) string {
	if f, ok := m.toField[label]; ok {
		return f
	}
	return label
}

// ToDisplayAll maps a column set to display labels, preserving order.
func (m *FieldMapping) ToDisplayAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = m.ToDisplay(f)
	}
	return out
}

// ToInternalAll maps a column set of display labels back to field identifiers.
func (m *FieldMapping) ToInternalAll(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = m.ToInternal(l)
	}
	return out
}

// Pairs returns a copy of the mapping in declaration order.
func (m *FieldMapping) Pairs() []FieldLabel {
	return append([]FieldLabel(nil), m.pairs...)
}
