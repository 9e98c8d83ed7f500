package dq

import (
	"github.com/rotisserie/eris"
)

// FieldType declares how a raw cell is coerced.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeDate     FieldType = "date"
	TypeCategory FieldType = "category"
)

// FieldSpec declares one normalized field. Column names the raw header
// column it is read from; empty means the same as Name.
type FieldSpec struct {
	Name   string    `yaml:"name" json:"name"`
	Column string    `yaml:"column,omitempty" json:"column,omitempty"`
	Type   FieldType `yaml:"type" json:"type"`
}

func (f FieldSpec) column() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// DuplicateMode selects how repeated natural keys are handled.
type DuplicateMode string

const (
	// RejectAll rejects every occurrence of a repeated key.
	RejectAll DuplicateMode = "reject_all"
	// KeepLatest keeps the last occurrence ordered by DuplicatePolicy.OrderBy.
	KeepLatest DuplicateMode = "keep_latest"
)

// DuplicatePolicy configures the resolver.
type DuplicatePolicy struct {
	Mode    DuplicateMode `yaml:"mode" json:"mode"`
	OrderBy string        `yaml:"order_by,omitempty" json:"order_by,omitempty"`
}

// DateLayouts lists the time layouts tried when parsing dates. Primary
// layouts are tried first, then the day-first fallbacks.
type DateLayouts struct {
	Primary  []string `yaml:"primary,omitempty" json:"primary,omitempty"`
	DayFirst []string `yaml:"day_first,omitempty" json:"day_first,omitempty"`
}

// DefaultDateLayouts mirrors the formats seen in the CRM and ad exports.
var DefaultDateLayouts = DateLayouts{
	Primary: []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"01/02/2006",
	},
	DayFirst: []string{
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
		"2/1/2006",
	},
}

// Profile is the declarative configuration of one source.
type Profile struct {
	Name         string              `yaml:"name" json:"name"`
	Fields       []FieldSpec         `yaml:"fields" json:"fields"`
	Required     []string            `yaml:"required" json:"required"`
	Categorical  map[string][]string `yaml:"categorical,omitempty" json:"categorical,omitempty"`
	NonNegative  []string            `yaml:"non_negative,omitempty" json:"non_negative,omitempty"`
	NaturalKey   []string            `yaml:"natural_key" json:"natural_key"`
	OutlierField string              `yaml:"outlier_field,omitempty" json:"outlier_field,omitempty"`
	Duplicates   DuplicatePolicy     `yaml:"duplicates" json:"duplicates"`
	Dates        DateLayouts         `yaml:"dates,omitempty" json:"dates,omitempty"`
}

// Field returns the declaration for name.
func (p Profile) Field(name string) (FieldSpec, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// dateLayouts returns the profile's layouts, falling back to the defaults.
func (p Profile) dateLayouts() DateLayouts {
	l := p.Dates
	if len(l.Primary) == 0 {
		l.Primary = DefaultDateLayouts.Primary
	}
	if len(l.DayFirst) == 0 {
		l.DayFirst = DefaultDateLayouts.DayFirst
	}
	return l
}

// Validate checks that every field a rule refers to is declared with a
// compatible type. A profile that fails validation halts the batch.
func (p Profile) Validate() error {
	if p.Name == "" {
		return eris.New("dq: profile: name is required")
	}
	if len(p.Fields) == 0 {
		return eris.Errorf("dq: profile %s: no fields declared", p.Name)
	}

	seen := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		if f.Name == "" {
			return eris.Errorf("dq: profile %s: field with empty name", p.Name)
		}
		if seen[f.Name] {
			return eris.Errorf("dq: profile %s: field %q declared twice", p.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeNumber, TypeDate, TypeCategory:
		default:
			return eris.Errorf("dq: profile %s: field %q has unknown type %q", p.Name, f.Name, f.Type)
		}
	}

	declared := func(rule, name string) (FieldSpec, error) {
		f, ok := p.Field(name)
		if !ok {
			return FieldSpec{}, eris.Errorf("dq: profile %s: %s field %q is not declared", p.Name, rule, name)
		}
		return f, nil
	}

	if len(p.Required) == 0 {
		return eris.Errorf("dq: profile %s: no required fields declared", p.Name)
	}
	required := make(map[string]bool, len(p.Required))
	for _, name := range p.Required {
		if _, err := declared("required", name); err != nil {
			return err
		}
		required[name] = true
	}

	for name, allowed := range p.Categorical {
		f, err := declared("categorical", name)
		if err != nil {
			return err
		}
		if f.Type != TypeCategory {
			return eris.Errorf("dq: profile %s: categorical field %q must have type category", p.Name, name)
		}
		if len(allowed) == 0 {
			return eris.Errorf("dq: profile %s: categorical field %q has no allowed values", p.Name, name)
		}
		for _, a := range allowed {
			if foldCategory(a) != a {
				return eris.Errorf("dq: profile %s: allowed value %q for %q must be trimmed lower case", p.Name, a, name)
			}
		}
	}

	for _, name := range p.NonNegative {
		f, err := declared("non-negative", name)
		if err != nil {
			return err
		}
		if f.Type != TypeNumber {
			return eris.Errorf("dq: profile %s: non-negative field %q must have type number", p.Name, name)
		}
	}

	if len(p.NaturalKey) == 0 {
		return eris.Errorf("dq: profile %s: natural key is empty", p.Name)
	}
	for _, name := range p.NaturalKey {
		if _, err := declared("natural key", name); err != nil {
			return err
		}
	}

	if p.OutlierField != "" {
		f, err := declared("outlier", p.OutlierField)
		if err != nil {
			return err
		}
		if f.Type != TypeNumber {
			return eris.Errorf("dq: profile %s: outlier field %q must have type number", p.Name, p.OutlierField)
		}
	}

	switch p.Duplicates.Mode {
	case RejectAll:
		if p.Duplicates.OrderBy != "" {
			return eris.Errorf("dq: profile %s: order_by is only valid with %s", p.Name, KeepLatest)
		}
	case KeepLatest:
		if p.Duplicates.OrderBy == "" {
			return eris.Errorf("dq: profile %s: %s requires order_by", p.Name, KeepLatest)
		}
		if _, err := declared("order_by", p.Duplicates.OrderBy); err != nil {
			return err
		}
		// Null ordering values would have no defined position.
		if !required[p.Duplicates.OrderBy] {
			return eris.Errorf("dq: profile %s: order_by field %q must be required", p.Name, p.Duplicates.OrderBy)
		}
	default:
		return eris.Errorf("dq: profile %s: unknown duplicate mode %q", p.Name, p.Duplicates.Mode)
	}

	return nil
}
