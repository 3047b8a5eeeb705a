// Package depth turns an alignment and its reference into the per-segment
// read-depth profile the CNV caller works on.
//
// Load counts reads per fixed-size reference bin, drops bins that overlap
// unknown reference bases, and corrects the counts for GC bias.  Each call to
// Preprocess then segments the corrected profile and reports one cnv.Bin per
// segment together with the sample's baseline depth.  The in-process
// segmentation uses a permutation test, so Preprocess results vary with the
// random source it is given.
package depth

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/knncnv"
	"github.com/grailbio/knncnv/cnv"
	"gonum.org/v1/gonum/stat"
)

// Segmentation implementations accepted in Opts.CBSImpl.
const (
	// CBSInProcess segments with the built-in binary segmentation.
	CBSInProcess = "python"
	// CBSExternal reads a segmentation computed by DNAcopy from Opts.SegPath.
	CBSExternal = "R"
)

// Opts controls preprocessing.
type Opts struct {
	// BinSize is the bin width in bases.
	BinSize int
	// CBSImpl selects the segmentation: CBSInProcess or CBSExternal.
	CBSImpl string
	// NCol is the number of equal partitions the bin vector was split into
	// for the external segmentation.  Only used with CBSExternal.
	NCol int
	// IsSimulation keeps duplicate-flagged and low-MAPQ reads, which read
	// simulators do not model.
	IsSimulation bool
	// SegPath is the DNAcopy segment table.  Required with CBSExternal.
	SegPath string
	// MinMapQ is the lowest mapping quality counted.
	MinMapQ int
	// Alpha is the permutation-test significance level for accepting a
	// breakpoint.
	Alpha float64
	// Permutations is the number of shuffles per permutation test.
	Permutations int
	// MinSegmentBins is the smallest segment the in-process segmentation
	// creates.
	MinSegmentBins int
}

// DefaultOpts are the preprocessing defaults.
var DefaultOpts = Opts{
	BinSize:        1000,
	CBSImpl:        CBSInProcess,
	NCol:           50,
	MinMapQ:        0,
	Alpha:          0.01,
	Permutations:   100,
	MinSegmentBins: 2,
}

func (o *Opts) validate() error {
	if o.BinSize <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("depth: bin size %d", o.BinSize))
	}
	switch o.CBSImpl {
	case CBSInProcess:
		if o.Permutations <= 0 || o.MinSegmentBins <= 0 || o.Alpha <= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("depth: segmentation needs positive permutations, min segment size and alpha, got %d, %d, %v",
				o.Permutations, o.MinSegmentBins, o.Alpha))
		}
	case CBSExternal:
		if o.SegPath == "" {
			return errors.E(errors.Invalid, "depth: external segmentation requires a segment path")
		}
		if o.NCol <= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("depth: partition count %d", o.NCol))
		}
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("depth: unknown segmentation implementation %q", o.CBSImpl))
	}
	return nil
}

// Depth is a GC-corrected bin-level read-depth profile.  It is read-only
// after construction, so Preprocess may be called concurrently.
type Depth struct {
	opts Opts
	// bins are the retained bins, sorted by chromosome then position.
	bins []cnv.Bin
	// runs holds the index of the first bin of every run of genomically
	// contiguous bins, plus len(bins).
	runs     []int
	baseline float64
	// segStarts are the external segment starts, as bin indices.
	segStarts []int
}

// New builds a Depth from bins that are already counted and corrected.  The
// bins must be sorted by chromosome then start.
func New(bins []cnv.Bin, opts Opts) (*Depth, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(bins) == 0 {
		return nil, errors.E(errors.Invalid, "depth: no bins")
	}
	d := &Depth{opts: opts, bins: bins}
	for i, b := range bins {
		if b.End < b.Start {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("depth: bin %d has end < start", i))
		}
		if i == 0 || bins[i-1].Chr != b.Chr || bins[i-1].End+1 != b.Start {
			d.runs = append(d.runs, i)
		}
	}
	d.runs = append(d.runs, len(bins))
	var err error
	if d.baseline, err = baselineMode(rds(bins)); err != nil {
		return nil, err
	}
	return d, nil
}

// Bins returns the bin-level profile.  The caller must not modify it.
func (d *Depth) Bins() []cnv.Bin { return d.bins }

// Baseline returns the sample's typical read depth.
func (d *Depth) Baseline() float64 { return d.baseline }

func rds(bins []cnv.Bin) []float64 {
	x := make([]float64, len(bins))
	for i, b := range bins {
		x[i] = b.RD
	}
	return x
}

// breaks returns the sorted bin indices at which a segment starts.
func (d *Depth) breaks(ctx context.Context, rng *rand.Rand) ([]int, error) {
	var starts []int
	switch d.opts.CBSImpl {
	case CBSInProcess:
		x := rds(d.bins)
		for r := 0; r+1 < len(d.runs); r++ {
			if err := ctx.Err(); err != nil {
				return nil, errors.E(err, "depth: segmentation")
			}
			lo, hi := d.runs[r], d.runs[r+1]
			for _, s := range binarySegment(x[lo:hi], rng, d.opts) {
				starts = append(starts, lo+s)
			}
		}
	case CBSExternal:
		starts = mergeSorted(d.runs[:len(d.runs)-1], d.segStarts)
	}
	return starts, nil
}

// Preprocess implements knncnv.Preprocessor.  It segments the profile and
// returns one bin per segment, with the segment's mean depth, and the
// baseline depth.  Segments never span a chromosome boundary or a dropped
// bin.
func (d *Depth) Preprocess(ctx context.Context, rng *rand.Rand) (knncnv.Sample, error) {
	starts, err := d.breaks(ctx, rng)
	if err != nil {
		return knncnv.Sample{}, err
	}
	segs := make([]cnv.Bin, len(starts))
	x := rds(d.bins)
	for i, lo := range starts {
		hi := len(d.bins)
		if i+1 < len(starts) {
			hi = starts[i+1]
		}
		segs[i] = cnv.Bin{
			Chr:   d.bins[lo].Chr,
			Start: d.bins[lo].Start,
			End:   d.bins[hi-1].End,
			RD:    stat.Mean(x[lo:hi], nil),
		}
	}
	log.Debug.Printf("depth: %d bins in %d segments, baseline %v", len(d.bins), len(segs), d.baseline)
	return knncnv.Sample{Bins: segs, Baseline: d.baseline}, nil
}

// mergeSorted merges two sorted index lists, dropping duplicates.
func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var v int
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			v = a[i]
			i++
		case i == len(a) || b[j] < a[i]:
			v = b[j]
			j++
		default:
			v = a[i]
			i++
			j++
		}
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}
