package dq

// Aggregate unions flag sets by record identity. Each rejected record
// appears once, carrying every reason it matched. Valid records keep their
// input order.
func Aggregate(records []Record, flagSets ...[]Flag) (valid []Record, rejected []Rejection) {
	reasons := make(map[int][]ReasonCode)
	for _, flags := range flagSets {
		for _, f := range flags {
			if !containsReason(reasons[f.Row], f.Reason) {
				reasons[f.Row] = append(reasons[f.Row], f.Reason)
			}
		}
	}

	for _, r := range records {
		rs, ok := reasons[r.Row]
		if !ok {
			valid = append(valid, r)
			continue
		}
		sortReasons(rs)
		rejected = append(rejected, Rejection{Record: r, Reasons: rs})
	}
	return valid, rejected
}

func containsReason(reasons []ReasonCode, r ReasonCode) bool {
	for _, got := range reasons {
		if got == r {
			return true
		}
	}
	return false
}
