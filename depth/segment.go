package depth

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// splitStat returns the split k in [m, len(x)-m] maximizing the two-sample
// t-like statistic |mean(x[:k]) - mean(x[k:])| / sqrt(1/k + 1/(n-k)), and
// that statistic.  prefix is scratch space of length len(x)+1.
func splitStat(x []float64, m int, prefix []float64) (int, float64) {
	n := len(x)
	prefix[0] = 0
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	bestK, best := -1, -1.0
	for k := m; k <= n-m; k++ {
		left := prefix[k] / float64(k)
		right := (prefix[n] - prefix[k]) / float64(n-k)
		t := math.Abs(left-right) / math.Sqrt(1/float64(k)+1/float64(n-k))
		if t > best {
			bestK, best = k, t
		}
	}
	return bestK, best
}

// binarySegment recursively splits x at the position that best separates
// the means of the two sides, keeping a split only when a permutation test
// puts its p-value at or below opts.Alpha.  It returns the sorted start
// offsets of the resulting segments; the first is always 0.
func binarySegment(x []float64, rng *rand.Rand, opts Opts) []int {
	starts := []int{0}
	var (
		prefix = make([]float64, len(x)+1)
		perm   = make([]float64, len(x))
		split  func(lo, hi int)
	)
	split = func(lo, hi int) {
		seg := x[lo:hi]
		if len(seg) < 2*opts.MinSegmentBins {
			return
		}
		k, t := splitStat(seg, opts.MinSegmentBins, prefix)
		if t <= 0 {
			return
		}
		p := perm[:len(seg)]
		copy(p, seg)
		exceed := 0
		for i := 0; i < opts.Permutations; i++ {
			rng.Shuffle(len(p), func(a, b int) { p[a], p[b] = p[b], p[a] })
			if _, pt := splitStat(p, opts.MinSegmentBins, prefix); pt >= t {
				exceed++
			}
		}
		if pval := float64(exceed+1) / float64(opts.Permutations+1); pval > opts.Alpha {
			return
		}
		starts = append(starts, lo+k)
		split(lo, lo+k)
		split(lo+k, hi)
	}
	split(0, len(x))
	sort.Ints(starts)
	return starts
}

// partitionID extracts the partition index from a DNAcopy sample ID such as
// "3" or "V3".
func partitionID(s string) (int, error) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return strconv.Atoi(s[i:])
}

// readSegments reads a DNAcopy segment table and returns the bin indices at
// which its segments start.  The table describes the bin vector of length
// nBins split into ncol equal partitions: ID is the 1-based partition and
// loc.start is the 1-based bin within the partition.
func readSegments(ctx context.Context, path string, nBins, ncol int) (starts []int, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	tr := tsv.NewReader(r)
	tr.LazyQuotes = true
	tr.FieldsPerRecord = -1
	// DNAcopy writes quoted headers, e.g. "loc.start".
	head, err := tr.Reader.Read()
	if err != nil {
		return nil, errors.E(err, "read", path)
	}
	cols := map[string]int{}
	for i, h := range head {
		cols[strings.Trim(h, `"`)] = i
	}
	idCol, ok := cols["ID"]
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: missing column ID", path))
	}
	locCol, ok := cols["loc.start"]
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: missing column loc.start", path))
	}
	width := (nBins + ncol - 1) / ncol
	for line := 2; ; line++ {
		row, err := tr.Reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "read", path)
		}
		if len(row) <= idCol || len(row) <= locCol {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: short row", path, line))
		}
		id, err := partitionID(strings.Trim(row[idCol], `"`))
		if err != nil || id < 1 || id > ncol {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: bad partition ID %q", path, line, row[idCol]))
		}
		loc, err := strconv.ParseFloat(row[locCol], 64)
		if err != nil || loc < 1 || loc != math.Trunc(loc) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: bad loc.start %q", path, line, row[locCol]))
		}
		idx := (id-1)*width + int(loc) - 1
		if idx >= nBins || int(loc) > width {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: segment start %d outside %d bins", path, line, idx+1, nBins))
		}
		starts = append(starts, idx)
	}
	sort.Ints(starts)
	return mergeSorted(starts, nil), nil
}
