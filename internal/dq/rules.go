package dq

// Flag marks one record (by row) as matching one rejection reason.
type Flag struct {
	Row    int
	Reason ReasonCode
}

// Rule evaluates one rejection rule over the complete normalized batch and
// returns the subset it rejects. Rules share no state and never see the
// output of another rule.
type Rule func(p Profile, records []Record) []Flag

// Rules returns the rule set for p, in reporting order.
func Rules(p Profile) []Rule {
	rules := []Rule{RequiredRule, CategoricalRule, NonNegativeRule}
	if p.Duplicates.Mode == RejectAll {
		rules = append(rules, DuplicateKeyRule)
	}
	return rules
}

// RequiredRule rejects records with any required field null.
func RequiredRule(p Profile, records []Record) []Flag {
	var flags []Flag
	for _, r := range records {
		for _, name := range p.Required {
			if r.Get(name).IsNull() {
				flags = append(flags, Flag{Row: r.Row, Reason: ReasonMissingRequired})
				break
			}
		}
	}
	return flags
}

// CategoricalRule rejects records whose categorical value is outside the
// allowed set. Null values are left to RequiredRule.
func CategoricalRule(p Profile, records []Record) []Flag {
	if len(p.Categorical) == 0 {
		return nil
	}

	allowed := make(map[string]map[string]bool, len(p.Categorical))
	for field, values := range p.Categorical {
		set := make(map[string]bool, len(values))
		for _, v := range values {
			set[v] = true
		}
		allowed[field] = set
	}

	var flags []Flag
	for _, r := range records {
		for field, set := range allowed {
			v := r.Get(field)
			if !v.IsNull() && !set[v.Str] {
				flags = append(flags, Flag{Row: r.Row, Reason: ReasonInvalidCategorical})
				break
			}
		}
	}
	return flags
}

// NonNegativeRule rejects records with a non-null declared metric below zero.
func NonNegativeRule(p Profile, records []Record) []Flag {
	var flags []Flag
	for _, r := range records {
		for _, name := range p.NonNegative {
			v := r.Get(name)
			if v.Kind == KindNumber && v.Num < 0 {
				flags = append(flags, Flag{Row: r.Row, Reason: ReasonNegativeValue})
				break
			}
		}
	}
	return flags
}

// DuplicateKeyRule rejects every occurrence of a natural key that appears
// more than once in the batch.
func DuplicateKeyRule(p Profile, records []Record) []Flag {
	counts := make(map[string]int, len(records))
	for _, r := range records {
		counts[r.Key(p.NaturalKey)]++
	}

	var flags []Flag
	for _, r := range records {
		if counts[r.Key(p.NaturalKey)] > 1 {
			flags = append(flags, Flag{Row: r.Row, Reason: ReasonDuplicateKey})
		}
	}
	return flags
}
