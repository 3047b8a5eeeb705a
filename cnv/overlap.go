package cnv

import (
	"fmt"

	"github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
)

// Performance is the base-pair level agreement between a call set and a
// truth set.
type Performance struct {
	// Covered is the total overlap, in bases, between calls and same-type
	// truth intervals.  A call spanning several truth intervals is credited
	// once per interval, so Covered may exceed ResultLength.
	Covered int
	// ResultLength is the total length of all calls.
	ResultLength int
	// TruthLength is the total length of all truth intervals.
	TruthLength int

	Precision   float64
	Sensitivity float64
	// FScore is the harmonic mean of Precision and Sensitivity.
	FScore float64
}

func (p Performance) String() string {
	return fmt.Sprintf("precision: %.4f (%d / %d) sensitivity: %.4f (%d / %d) f-score: %.4f",
		p.Precision, p.Covered, p.ResultLength, p.Sensitivity, p.Covered, p.TruthLength, p.FScore)
}

// truthNode adapts a Truth to interval.IntInterface.  The tree works on
// half-open ranges, so the inclusive [Start, End] becomes [Start, End+1).
type truthNode struct {
	id    uintptr
	truth Truth
}

func (n truthNode) Overlap(b interval.IntRange) bool {
	return n.truth.End+1 > b.Start && n.truth.Start < b.End
}

func (n truthNode) ID() uintptr { return n.id }

func (n truthNode) Range() interval.IntRange {
	return interval.IntRange{Start: n.truth.Start, End: n.truth.End + 1}
}

// callQuery is the tree query for one call.
type callQuery struct {
	start, end int // inclusive
}

func (q callQuery) Overlap(b interval.IntRange) bool {
	return q.end+1 > b.Start && q.start < b.End
}

// overlapLen returns the number of bases shared by the inclusive ranges
// [aStart, aEnd] and [bStart, bEnd], or 0 if they are disjoint.
func overlapLen(aStart, aEnd, bStart, bEnd int) int {
	lo, hi := aStart, aEnd
	if bStart > lo {
		lo = bStart
	}
	if bEnd < hi {
		hi = bEnd
	}
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}

func harmonicMean(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return 2 / (1/a + 1/b)
}

// Score compares calls against a truth set.
//
// For every (call, truth) pair with the same type whose intervals overlap,
// the intersection length is added to Performance.Covered.  Chromosomes are
// compared only when the truth interval carries one.  Precision is
// Covered/ResultLength (0 when there are no calls), Sensitivity is
// Covered/TruthLength (0 for an empty truth set), and FScore is their
// harmonic mean, 0 if either is 0.
func Score(calls []Call, truth []Truth) (Performance, error) {
	var perf Performance
	trees := map[Type]*interval.IntTree{}
	for i, t := range truth {
		if t.End < t.Start {
			return perf, errors.E(errors.Invalid, fmt.Sprintf("cnv.Score: truth interval %d (%v) has end < start", i, t))
		}
		perf.TruthLength += t.Len()
		tree := trees[t.Type]
		if tree == nil {
			tree = &interval.IntTree{}
			trees[t.Type] = tree
		}
		if err := tree.Insert(truthNode{id: uintptr(i), truth: t}, true); err != nil {
			return perf, errors.E(errors.Invalid, err, fmt.Sprintf("cnv.Score: truth interval %d", i))
		}
	}
	for _, tree := range trees {
		tree.AdjustRanges()
	}

	for i, c := range calls {
		if c.End < c.Start {
			return perf, errors.E(errors.Invalid, fmt.Sprintf("cnv.Score: call %d (%v) has end < start", i, c))
		}
		perf.ResultLength += c.Len()
		tree := trees[c.Type]
		if tree == nil {
			continue
		}
		for _, hit := range tree.Get(callQuery{start: c.Start, end: c.End}) {
			t := hit.(truthNode).truth
			if t.Chr != "" && t.Chr != c.Chr {
				continue
			}
			perf.Covered += overlapLen(c.Start, c.End, t.Start, t.End)
		}
	}

	if perf.ResultLength > 0 {
		perf.Precision = float64(perf.Covered) / float64(perf.ResultLength)
	}
	if perf.TruthLength > 0 {
		perf.Sensitivity = float64(perf.Covered) / float64(perf.TruthLength)
	}
	perf.FScore = harmonicMean(perf.Precision, perf.Sensitivity)
	return perf, nil
}
