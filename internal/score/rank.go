package score

import (
	"sort"

	"costadvisor/internal/normalize"
)

// Candidate pairs a catalog offering with its equivalence score.
type Candidate struct {
	Spec  normalize.NormalizedSpec
	Score float64
}

// FilterAndRank scores every candidate against the target, drops those below
// the threshold, and ranks the rest: score descending, then price ascending.
func FilterAndRank(target normalize.NormalizedSpec, candidates []normalize.NormalizedSpec, threshold float64) []Candidate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var accepted []Candidate
	for _, spec := range candidates {
		s := Score(spec, target)
		if s < threshold {
			continue
		}
		accepted = append(accepted, Candidate{Spec: spec, Score: s})
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].Score != accepted[j].Score {
			return accepted[i].Score > accepted[j].Score
		}
		return accepted[i].Spec.MonthlyPrice.LessThan(accepted[j].Spec.MonthlyPrice)
	})
	return accepted
}

// Cheapest returns the lowest-priced candidate, or false when the slice is
// empty. Substitution rules pick the cheapest accepted candidate so the user
// sees the largest saving that still clears the equivalence bar.
func Cheapest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Spec.MonthlyPrice.LessThan(best.Spec.MonthlyPrice) {
			best = c
		}
	}
	return best, true
}
