package cnv

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Merge consolidates outlier bins into CNV calls.
//
// bins must be sorted by chromosome, then start; outliers[i] reports whether
// bins[i] was labeled an outlier.  Each outlier bin is typed with
// Classify(bin.RD, baseline), and a maximal run of outlier bins in which each
// bin is adjacent to, and has the same type as, its predecessor becomes one
// Call.  A run is terminated by a gap, a chromosome change, an inlier bin
// (which always leaves a gap in the outlier sequence) or a type change.
//
// The returned calls are in input order and do not overlap.  An input without
// outliers yields an empty, non-nil slice.
func Merge(bins []Bin, outliers []bool, baseline float64) ([]Call, error) {
	if len(bins) != len(outliers) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("cnv.Merge: %d bins but %d labels", len(bins), len(outliers)))
	}
	if !isFinite(baseline) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("cnv.Merge: baseline depth %v", baseline))
	}
	calls := []Call{}
	var (
		cur    Call
		inCall bool
	)
	for i, bin := range bins {
		if bin.End < bin.Start {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("cnv.Merge: bin %d has end %d < start %d", i, bin.End, bin.Start))
		}
		if !isFinite(bin.RD) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("cnv.Merge: bin %d has read depth %v", i, bin.RD))
		}
		if !outliers[i] {
			continue
		}
		typ := Classify(bin.RD, baseline)
		if inCall && cur.Chr == bin.Chr && cur.End+1 == bin.Start && cur.Type == typ {
			// Absorb: the call keeps its start and representative depth.
			cur.End = bin.End
			continue
		}
		if inCall {
			calls = append(calls, cur)
		}
		cur = Call{Chr: bin.Chr, Start: bin.Start, End: bin.End, RD: bin.RD, Type: typ}
		inCall = true
	}
	if inCall {
		calls = append(calls, cur)
	}
	return calls, nil
}
