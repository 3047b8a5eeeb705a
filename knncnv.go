// Package knncnv calls copy-number variants from a read-depth profile.
//
// A call run repeats an independent trial several times.  Each trial asks a
// Preprocessor for a segmented depth profile, scores every segment with a
// k-nearest-neighbor outlier scorer (k drawn afresh per trial), splits the
// scores into inliers and outliers with a two-component mixture, and merges
// adjacent outlier segments of the same type into calls.  When ground truth
// is supplied the calls are also scored against it.
package knncnv

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/knncnv/cnv"
	"github.com/grailbio/knncnv/mixture"
	"github.com/grailbio/knncnv/outlier"
)

// Sample is one trial's segmented depth profile.
type Sample struct {
	// Bins are sorted by chromosome then start.
	Bins []cnv.Bin
	// Baseline is the sample's typical depth.  Bins deeper than it are
	// duplications, the rest deletions.
	Baseline float64
}

// Preprocessor produces the depth profile for a trial.  rng is owned by the
// trial; implementations draw all of their randomness from it.
type Preprocessor interface {
	Preprocess(ctx context.Context, rng *rand.Rand) (Sample, error)
}

// Scorer assigns an anomaly score to each value given a neighbor count.
// Higher scores are more anomalous.
type Scorer interface {
	Score(values []float64, k int) ([]float64, error)
}

// Classifier labels scores as outliers (true) or inliers.
type Classifier interface {
	Classify(scores []float64) ([]bool, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(scores []float64) ([]bool, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(scores []float64) ([]bool, error) { return f(scores) }

// Opts controls a call run.
type Opts struct {
	// Trials is the number of independent trials.
	Trials int
	// MinNeighborFrac and MaxNeighborFrac bound the neighbor count, as a
	// fraction of the number of segments.  Each trial draws k uniformly from
	// [int(n*MinNeighborFrac), int(n*MaxNeighborFrac)).
	MinNeighborFrac float64
	MaxNeighborFrac float64
	// Seed seeds trial i's random source with Seed+i.
	Seed int64
	// Truth, if non-nil, is scored against every trial's calls.
	Truth []cnv.Truth
	// Parallelism is the number of trials run concurrently.  If <= 0,
	// runtime.NumCPU() is used.
	Parallelism int
	// TrialTimeout bounds each trial's duration.  Zero means no limit.
	TrialTimeout time.Duration
	// Scorer defaults to outlier.KNN.
	Scorer Scorer
	// Classifier defaults to mixture.Classify.
	Classifier Classifier
}

// DefaultOpts are the call-run defaults.
var DefaultOpts = Opts{
	Trials:          5,
	MinNeighborFrac: 0.2,
	MaxNeighborFrac: 0.35,
	Parallelism:     1,
}

func (o *Opts) validate() error {
	if o.Trials < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("knncnv: trial count %d", o.Trials))
	}
	if o.MinNeighborFrac < 0 || o.MaxNeighborFrac > 1 || o.MinNeighborFrac > o.MaxNeighborFrac {
		return errors.E(errors.Invalid, fmt.Sprintf("knncnv: neighbor fraction range [%v, %v)", o.MinNeighborFrac, o.MaxNeighborFrac))
	}
	if o.TrialTimeout < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("knncnv: trial timeout %v", o.TrialTimeout))
	}
	return nil
}

// TrialResult is the outcome of one trial.
type TrialResult struct {
	// Trial is the 0-based trial index.
	Trial int
	// Seed is the seed of the trial's random source.
	Seed int64
	// Neighbors is the neighbor count used for outlier scoring.
	Neighbors int
	// Segments is the number of segments the preprocessor produced.
	Segments int
	Baseline float64
	// Calls are ordered as the segments they were merged from.
	Calls []cnv.Call
	// Performance is set when truth was supplied and the trial succeeded.
	Performance *cnv.Performance
	Duration    time.Duration
	// Err is non-nil if the trial failed.  The other fields then describe
	// how far it got.
	Err error
}

// NeighborCount draws the neighbor count for n segments: uniform in
// [int(n*minFrac), int(n*maxFrac)), or int(n*minFrac) when that range is
// empty, clamped to [1, n-1].  n must be at least 2.
func NeighborCount(n int, minFrac, maxFrac float64, rng *rand.Rand) int {
	lo, hi := int(float64(n)*minFrac), int(float64(n)*maxFrac)
	k := lo
	if hi > lo {
		k = lo + rng.Intn(hi-lo)
	}
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}

// Run runs opts.Trials independent trials over the profiles produced by pre.
// A failed trial is reported in its TrialResult and does not stop the
// others; Run itself only fails for invalid options.  Results are indexed by
// trial.
func Run(ctx context.Context, pre Preprocessor, opts Opts) ([]TrialResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if pre == nil {
		return nil, errors.E(errors.Invalid, "knncnv: nil preprocessor")
	}
	if opts.Scorer == nil {
		opts.Scorer = outlier.KNN{}
	}
	if opts.Classifier == nil {
		opts.Classifier = ClassifierFunc(mixture.Classify)
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > opts.Trials {
		parallelism = opts.Trials
	}
	results := make([]TrialResult, opts.Trials)
	// Trials never return an error to traverse, so one failure cannot cancel
	// the rest.
	_ = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * opts.Trials) / parallelism
		endIdx := ((jobIdx + 1) * opts.Trials) / parallelism
		for i := startIdx; i < endIdx; i++ {
			results[i] = runTrial(ctx, pre, &opts, i)
			if err := results[i].Err; err != nil {
				log.Error.Printf("knncnv: trial %d failed: %v", i, err)
			} else {
				log.Printf("knncnv: trial %d: k=%d, %d segments, %d calls (%v)", i, results[i].Neighbors, results[i].Segments, len(results[i].Calls), results[i].Duration)
			}
		}
		return nil
	})
	return results, nil
}

// runTrial runs trial i.  Panics inside the trial are reported as its error.
func runTrial(ctx context.Context, pre Preprocessor, opts *Opts, i int) (r TrialResult) {
	start := time.Now()
	r.Trial = i
	r.Seed = opts.Seed + int64(i)
	defer func() {
		if p := recover(); p != nil {
			r.Err = errors.E(fmt.Sprintf("knncnv: trial %d panicked: %v", i, p))
		}
		r.Duration = time.Since(start)
	}()
	if opts.TrialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TrialTimeout)
		defer cancel()
	}
	rng := rand.New(rand.NewSource(r.Seed))

	sample, err := pre.Preprocess(ctx, rng)
	if err != nil {
		r.Err = errors.E(err, "preprocess")
		return
	}
	r.Segments = len(sample.Bins)
	r.Baseline = sample.Baseline
	if r.Segments < 2 {
		r.Err = errors.E(errors.Invalid, fmt.Sprintf("knncnv: need at least 2 segments, got %d", r.Segments))
		return
	}
	values := make([]float64, r.Segments)
	for j, b := range sample.Bins {
		values[j] = b.RD
	}
	r.Neighbors = NeighborCount(r.Segments, opts.MinNeighborFrac, opts.MaxNeighborFrac, rng)

	scores, err := opts.Scorer.Score(values, r.Neighbors)
	if err != nil {
		r.Err = errors.E(err, "score")
		return
	}
	if len(scores) != len(values) {
		r.Err = errors.E(errors.Invalid, fmt.Sprintf("knncnv: scorer returned %d scores for %d segments", len(scores), len(values)))
		return
	}
	if err = ctx.Err(); err != nil {
		r.Err = errors.E(err, "knncnv: trial", fmt.Sprint(i))
		return
	}
	labels, err := opts.Classifier.Classify(scores)
	if err != nil {
		r.Err = errors.E(err, "classify")
		return
	}
	if r.Calls, err = cnv.Merge(sample.Bins, labels, sample.Baseline); err != nil {
		r.Err = errors.E(err, "merge")
		return
	}
	if opts.Truth != nil {
		perf, err := cnv.Score(r.Calls, opts.Truth)
		if err != nil {
			r.Err = errors.E(err, "score against truth")
			return
		}
		r.Performance = &perf
	}
	if err = ctx.Err(); err != nil {
		r.Err = errors.E(err, "knncnv: trial", fmt.Sprint(i))
	}
	return
}
