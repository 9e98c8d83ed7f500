package dq

import "sort"

// Resolve applies the profile's duplicate policy to the valid set.
//
// For reject_all the set passes through unchanged: duplicates were already
// rejected by DuplicateKeyRule. For keep_latest the records are stably
// ordered by the policy's OrderBy field and, per natural key, the last one
// in that order survives. Earlier occurrences are returned as superseded.
// Survivors keep their input order.
func Resolve(p Profile, valid []Record) (kept []Record, superseded []Superseded) {
	if p.Duplicates.Mode != KeepLatest || len(valid) < 2 {
		return valid, nil
	}

	order := make([]int, len(valid))
	for i := range order {
		order[i] = i
	}
	field := p.Duplicates.OrderBy
	sort.SliceStable(order, func(a, b int) bool {
		return valid[order[a]].Get(field).Less(valid[order[b]].Get(field))
	})

	// Walking the sorted order, the last write per key wins; ties fall back
	// to input order because the sort is stable.
	winner := make(map[string]int, len(valid))
	for _, i := range order {
		winner[valid[i].Key(p.NaturalKey)] = i
	}

	for i, r := range valid {
		w := winner[r.Key(p.NaturalKey)]
		if w == i {
			kept = append(kept, r)
			continue
		}
		superseded = append(superseded, Superseded{Record: r, SupersededBy: valid[w].Row})
	}
	return kept, superseded
}
