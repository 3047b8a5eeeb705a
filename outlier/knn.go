// Package outlier scores one-dimensional observations by how far they sit
// from their nearest neighbors.
package outlier

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
)

// KNN is a k-nearest-neighbor anomaly scorer.  The score of an observation
// is the mean absolute distance to its k nearest other observations, so
// isolated values score high.
type KNN struct{}

// Score implements the scorer used by the knncnv pipeline; see KNNScores.
func (KNN) Score(values []float64, k int) ([]float64, error) {
	return KNNScores(values, k)
}

// KNNScores returns, for each of values, the mean distance to its k nearest
// neighbors, excluding itself.  The result is in input order.  k must be in
// [1, len(values)).
//
// In one dimension the k nearest neighbors of a point form a contiguous
// window of the sorted values, and the window start never moves left as the
// point moves right.  The scores are therefore computed with one sort and a
// single sweep, using prefix sums to total the distances.
func KNNScores(values []float64, k int) ([]float64, error) {
	n := len(values)
	if k < 1 || k >= n {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("outlier: neighbor count %d out of range [1, %d)", k, n))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("outlier: value %d is %v", i, v))
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return values[order[i]] < values[order[j]] })
	s := make([]float64, n)
	prefix := make([]float64, n+1)
	for i, idx := range order {
		s[i] = values[idx]
		prefix[i+1] = prefix[i] + s[i]
	}

	scores := make([]float64, n)
	// The window s[lo:lo+k+1] holds the point itself plus its k neighbors.
	lo := 0
	for p := 0; p < n; p++ {
		if lo < p-k {
			lo = p - k
		}
		for lo+k+1 < n && s[lo+k+1]-s[p] < s[p]-s[lo] {
			lo++
		}
		hi := lo + k // inclusive
		left := s[p]*float64(p-lo) - (prefix[p] - prefix[lo])
		right := (prefix[hi+1] - prefix[p+1]) - s[p]*float64(hi-p)
		scores[order[p]] = (left + right) / float64(k)
	}
	return scores, nil
}
