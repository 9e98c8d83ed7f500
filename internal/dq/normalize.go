package dq

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// nullLiterals are string cells treated as missing after trimming.
var nullLiterals = map[string]bool{
	"":     true,
	"nan":  true,
	"None": true,
	"<NA>": true,
}

// Normalize coerces every well-shaped row of batch into a Record. Rows whose
// cell count differs from the header are returned as StructuralErrors and
// are not coerced. A declared column missing from the header is an error.
func Normalize(p Profile, batch *RawBatch) ([]Record, []StructuralError, error) {
	if batch == nil {
		return nil, nil, eris.New("dq: normalize: nil batch")
	}

	colIdx := make(map[string]int, len(batch.Header))
	for i, h := range batch.Header {
		colIdx[strings.TrimSpace(h)] = i
	}

	idx := make([]int, len(p.Fields))
	for i, f := range p.Fields {
		j, ok := colIdx[f.column()]
		if !ok {
			return nil, nil, eris.Errorf("dq: normalize %s: column %q missing from header", p.Name, f.column())
		}
		idx[i] = j
	}

	layouts := p.dateLayouts()
	width := len(batch.Header)

	records := make([]Record, 0, len(batch.Records))
	var structural []StructuralError
	for i := range batch.Records {
		raw := &batch.Records[i]
		if len(raw.Cells) != width {
			structural = append(structural, StructuralError{
				Row:        raw.Row,
				FieldCount: len(raw.Cells),
				Expected:   width,
			})
			continue
		}

		values := make(map[string]Value, len(p.Fields))
		for k, f := range p.Fields {
			values[f.Name] = coerce(f.Type, raw.Cells[idx[k]], layouts)
		}
		records = append(records, Record{Row: raw.Row, Values: values, Raw: raw})
	}

	return records, structural, nil
}

func coerce(t FieldType, cell any, layouts DateLayouts) Value {
	switch t {
	case TypeNumber:
		return coerceNumber(cell)
	case TypeDate:
		return coerceDate(cell, layouts)
	case TypeCategory:
		s, ok := cellString(cell)
		if !ok {
			return Null
		}
		return StringValue(foldCategory(s))
	default:
		s, ok := cellString(cell)
		if !ok {
			return Null
		}
		return StringValue(s)
	}
}

// cellString renders a cell as a trimmed string, reporting false for nulls.
func cellString(cell any) (string, bool) {
	var s string
	switch v := cell.(type) {
	case nil:
		return "", false
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		if math.IsNaN(v) {
			return "", false
		}
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case time.Time:
		s = v.Format(time.RFC3339)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	if nullLiterals[s] {
		return "", false
	}
	return s, true
}

func coerceNumber(cell any) Value {
	var f float64
	switch v := cell.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	default:
		s, ok := cellString(cell)
		if !ok {
			return Null
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Null
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null
	}
	return NumberValue(f)
}

func coerceDate(cell any, layouts DateLayouts) Value {
	if t, ok := cell.(time.Time); ok {
		if t.IsZero() {
			return Null
		}
		return DateValue(t)
	}
	s, ok := cellString(cell)
	if !ok {
		return Null
	}
	if t, ok := parseDate(s, layouts.Primary); ok {
		return DateValue(t)
	}
	if t, ok := parseDate(s, layouts.DayFirst); ok {
		return DateValue(t)
	}
	return Null
}

func parseDate(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// foldCategory trims and lower-cases a categorical value.
func foldCategory(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}
