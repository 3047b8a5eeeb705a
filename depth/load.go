package depth

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/knncnv/cnv"
	"github.com/grailbio/knncnv/encoding/fasta"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Load reads the reference at faPath and the alignments at bamPath and
// returns their GC-corrected bin-level depth profile.  With CBSExternal the
// segment table at opts.SegPath is read too.
func Load(ctx context.Context, bamPath, faPath string, opts Opts) (*Depth, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	ref, err := readFasta(ctx, faPath)
	if err != nil {
		return nil, err
	}
	counts := newCounts(ref, opts.BinSize)
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return nil, errors.E(err, "open", bamPath)
	}
	cs, err := countReads(in.Reader(ctx), counts, opts)
	if closeErr := in.Close(ctx); err == nil && closeErr != nil {
		err = errors.E(closeErr, "close", bamPath)
	}
	if err != nil {
		return nil, errors.E(err, "read", bamPath)
	}
	log.Printf("depth: %s: %d reads, %d counted, %d on unknown references", bamPath, cs.reads, cs.counted, cs.unknownRef)

	bins, gc := retainedBins(ref, counts, opts.BinSize)
	if len(bins) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("depth: %s: no bins without unknown bases", faPath))
	}
	correctGC(bins, gc)
	d, err := New(bins, opts)
	if err != nil {
		return nil, err
	}
	if opts.CBSImpl == CBSExternal {
		if d.segStarts, err = readSegments(ctx, opts.SegPath, len(bins), opts.NCol); err != nil {
			return nil, err
		}
	}
	log.Printf("depth: %d bins retained, baseline %v", len(bins), d.baseline)
	return d, nil
}

func readFasta(ctx context.Context, path string) (_ fasta.Fasta, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	f, err := fasta.New(r)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "read", path)
	}
	return f, nil
}

// refCounts holds per-bin read counts and base composition for one
// reference sequence.
type refCounts struct {
	comp   []fasta.BinComposition
	counts []float64
}

func newCounts(ref fasta.Fasta, binSize int) map[string]*refCounts {
	m := make(map[string]*refCounts, len(ref.SeqNames()))
	for _, name := range ref.SeqNames() {
		// Composition fails only for unknown names and bad bin sizes, neither
		// of which can happen here.
		comp, err := ref.Composition(name, binSize)
		if err != nil {
			log.Panicf("depth: composition of %s: %v", name, err)
		}
		m[name] = &refCounts{comp: comp, counts: make([]float64, len(comp))}
	}
	return m
}

type countStats struct {
	reads, counted, unknownRef int
}

// keep reports whether a record contributes to the depth.
func keep(rec *sam.Record, opts Opts) bool {
	if rec.Ref == nil || rec.Pos < 0 {
		return false
	}
	if rec.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary|sam.QCFail) != 0 {
		return false
	}
	if opts.IsSimulation {
		return true
	}
	return rec.Flags&sam.Duplicate == 0 && int(rec.MapQ) >= opts.MinMapQ
}

// countReads adds each kept read in the BAM stream r to the bin holding its
// alignment start.
func countReads(r io.Reader, counts map[string]*refCounts, opts Opts) (s countStats, err error) {
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return s, err
	}
	defer func() {
		if closeErr := br.Close(); err == nil {
			err = closeErr
		}
	}()
	for {
		rec, err := br.Read()
		if err == io.EOF {
			return s, nil
		}
		if err != nil {
			return s, err
		}
		s.reads++
		if !keep(rec, opts) {
			continue
		}
		rc := counts[rec.Ref.Name()]
		if rc == nil {
			s.unknownRef++
			continue
		}
		if i := rec.Pos / opts.BinSize; i < len(rc.counts) {
			rc.counts[i]++
			s.counted++
		}
	}
}

// retainedBins lists the full-length bins without unknown bases in reference
// order, together with each bin's GC percentage.
func retainedBins(ref fasta.Fasta, counts map[string]*refCounts, binSize int) ([]cnv.Bin, []int) {
	var (
		bins    []cnv.Bin
		gc      []int
		dropped int
	)
	for _, name := range ref.SeqNames() {
		rc := counts[name]
		for i, c := range rc.comp {
			if c.N > 0 || c.Len < binSize {
				dropped++
				continue
			}
			bins = append(bins, cnv.Bin{
				Chr:   name,
				Start: i*binSize + 1,
				End:   i*binSize + c.Len,
				RD:    rc.counts[i],
			})
			gc = append(gc, int(math.Round(100*c.GCFraction())))
		}
	}
	log.Debug.Printf("depth: dropped %d bins with unknown bases or short length", dropped)
	return bins, gc
}

// correctGC scales each bin's depth by the ratio of the global mean depth to
// the mean depth of the bins with the same GC percentage.
func correctGC(bins []cnv.Bin, gc []int) {
	x := rds(bins)
	global := stat.Mean(x, nil)
	groups := make(map[int][]float64)
	for i, g := range gc {
		groups[g] = append(groups[g], x[i])
	}
	means := make(map[int]float64, len(groups))
	for g, v := range groups {
		means[g] = stat.Mean(v, nil)
	}
	for i := range bins {
		if m := means[gc[i]]; m > 0 {
			bins[i].RD = x[i] * (global / m)
		}
	}
}

// baselineMode returns the most frequent depth after rounding to integers.
// Ties resolve to the median of the tied values, and when no rounded depth
// repeats the median of all of them is used.
func baselineMode(x []float64) (float64, error) {
	rounded := make(stats.Float64Data, len(x))
	for i, v := range x {
		rounded[i] = math.Round(v)
	}
	modes, err := stats.Mode(rounded)
	if err != nil {
		return 0, errors.E(errors.Invalid, err, "depth: baseline")
	}
	if len(modes) == 0 {
		modes = rounded
	}
	m, err := stats.Median(modes)
	if err != nil {
		return 0, errors.E(errors.Invalid, err, "depth: baseline")
	}
	return m, nil
}
