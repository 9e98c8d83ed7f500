package dq

import (
	"strconv"
	"time"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindDate
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Value is a normalized field value. The zero Value is null.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
}

// Null is the explicit null marker.
var Null = Value{}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// DateValue returns a date Value. t keeps its time of day and offset.
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Time: t} }

// Day returns the calendar day of a date Value, taken in the value's own
// offset, as midnight UTC. Other kinds are returned unchanged.
func (v Value) Day() Value {
	if v.Kind != KindDate {
		return v
	}
	y, m, d := v.Time.Date()
	return Value{Kind: KindDate, Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// dateOnly reports whether t falls exactly on midnight.
func dateOnly(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// IsNull reports whether v is the null marker.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Key renders v as a comparable string for natural-key grouping.
// All nulls render identically so null key parts group together. Dates
// key on their calendar day.
func (v Value) Key() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.Str
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return "d:" + v.Time.Format(time.DateOnly)
	default:
		return "null"
	}
}

// Less orders two values of the same kind. Nulls sort first; dates
// compare as instants.
func (v Value) Less(o Value) bool {
	if v.Kind != o.Kind {
		return v.Kind < o.Kind
	}
	switch v.Kind {
	case KindString:
		return v.Str < o.Str
	case KindNumber:
		return v.Num < o.Num
	case KindDate:
		return v.Time.Before(o.Time)
	default:
		return false
	}
}

// Interface returns the Go value for v, or nil for null.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindDate:
		return v.Time
	default:
		return nil
	}
}

// String renders v for logs and audit payloads.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		if dateOnly(v.Time) {
			return v.Time.Format(time.DateOnly)
		}
		return v.Time.Format(time.RFC3339)
	default:
		return ""
	}
}
