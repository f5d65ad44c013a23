// Package stats holds the score reductions: median selection with run
// provenance and the geometric mean used for run and suite composition.
package stats

import (
	"fmt"
	"math"
	"sort"
)

// SelectMedian picks the representative score from a run-index → score
// mapping. Pairs sort by score ascending with ties broken by run index
// ascending, so selection is deterministic. For an odd count the middle
// element's score and single index are returned; for an even count the
// arithmetic mean of the two middle scores and both their indices, in
// sorted-position order. A single entry returns itself.
func SelectMedian(scores map[int]float64) (float64, []int, error) {
	if len(scores) == 0 {
		return 0, nil, fmt.Errorf("no scores to select from")
	}

	type pair struct {
		index int
		score float64
	}
	pairs := make([]pair, 0, len(scores))
	for i, s := range scores {
		pairs = append(pairs, pair{index: i, score: s})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score < pairs[j].score
		}
		return pairs[i].index < pairs[j].index
	})

	n := len(pairs)
	m := n / 2
	if n%2 == 1 {
		return pairs[m].score, []int{pairs[m].index}, nil
	}
	mean := (pairs[m-1].score + pairs[m].score) / 2
	return mean, []int{pairs[m-1].index, pairs[m].index}, nil
}

// GeometricMean computes the geometric mean of vals. It is undefined
// for an empty list or any non-positive value.
func GeometricMean(vals []float64) (float64, error) {
	if len(vals) == 0 {
		return 0, fmt.Errorf("geometric mean of empty list")
	}
	sum := 0.0
	for _, v := range vals {
		if v <= 0 || math.IsNaN(v) {
			return 0, fmt.Errorf("geometric mean undefined for value %v", v)
		}
		sum += math.Log(v)
	}
	return math.Exp(sum / float64(len(vals))), nil
}

// Round rounds v to the given number of decimal digits.
func Round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
