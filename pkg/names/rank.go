package names

import (
	"cmp"
	"slices"
)

// Rank validates each candidate and returns the results ordered by
// descending confidence. Candidates with equal confidence keep their input
// order.
func (v *Validator) Rank(candidates []string) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, v.Validate(c))
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	return results
}
