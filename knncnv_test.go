package knncnv

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/knncnv/cnv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profile is 40 contiguous 1kb bins around depth 100, with a 3-bin
// duplication at bins 10-12 and a 3-bin deletion at bins 25-27.
func profile() []cnv.Bin {
	bins := make([]cnv.Bin, 40)
	for i := range bins {
		rd := 100 + float64(i%5)*0.2 - 0.4
		switch {
		case i >= 10 && i <= 12:
			rd = 200
		case i >= 25 && i <= 27:
			rd = 0
		}
		bins[i] = cnv.Bin{Chr: "chr1", Start: i*1000 + 1, End: (i + 1) * 1000, RD: rd}
	}
	return bins
}

var profileTruth = []cnv.Truth{
	{Start: 10001, End: 13000, Type: cnv.Duplication},
	{Start: 25001, End: 28000, Type: cnv.Deletion},
}

type fixedPre struct {
	bins     []cnv.Bin
	baseline float64
}

func (p fixedPre) Preprocess(ctx context.Context, rng *rand.Rand) (Sample, error) {
	return Sample{Bins: p.bins, Baseline: p.baseline}, nil
}

type preFunc func(ctx context.Context, rng *rand.Rand) (Sample, error)

func (f preFunc) Preprocess(ctx context.Context, rng *rand.Rand) (Sample, error) { return f(ctx, rng) }

func TestNeighborCount(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		k := NeighborCount(100, 0.2, 0.35, rng)
		assert.True(t, k >= 20 && k < 35, "k=%d", k)
		seen[k] = true
	}
	assert.Len(t, seen, 15)
	assert.Equal(t, 1, NeighborCount(2, 0.2, 0.35, rng))
	assert.Equal(t, 1, NeighborCount(3, 0.2, 0.35, rng))
	assert.Equal(t, 4, NeighborCount(5, 1, 1, rng))
	assert.Equal(t, 7, NeighborCount(20, 0.35, 0.35, rng))
}

func TestRun(t *testing.T) {
	opts := DefaultOpts
	opts.Truth = profileTruth
	opts.Seed = 17
	results, err := Run(context.Background(), fixedPre{profile(), 100}, opts)
	require.NoError(t, err)
	require.Len(t, results, opts.Trials)
	for i, r := range results {
		require.NoError(t, r.Err, "trial %d", i)
		assert.Equal(t, i, r.Trial)
		assert.Equal(t, int64(17+i), r.Seed)
		assert.True(t, r.Neighbors >= 8 && r.Neighbors < 14, "k=%d", r.Neighbors)
		assert.Equal(t, 40, r.Segments)
		assert.Equal(t, []cnv.Call{
			{Chr: "chr1", Start: 10001, End: 13000, RD: 200, Type: cnv.Duplication},
			{Chr: "chr1", Start: 25001, End: 28000, RD: 0, Type: cnv.Deletion},
		}, r.Calls)
		require.NotNil(t, r.Performance)
		assert.Equal(t, 1.0, r.Performance.Precision)
		assert.Equal(t, 1.0, r.Performance.Sensitivity)
		assert.Equal(t, 1.0, r.Performance.FScore)
	}

	s := Summarize(results)
	assert.Equal(t, Summary{
		Trials:      5,
		Succeeded:   5,
		Scored:      5,
		Calls:       2,
		Precision:   Stat{1, 0},
		Sensitivity: Stat{1, 0},
		FScore:      Stat{1, 0},
	}, s)
}

func TestRunWithoutTruth(t *testing.T) {
	results, err := Run(context.Background(), fixedPre{profile(), 100}, DefaultOpts)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Nil(t, r.Performance)
		assert.Len(t, r.Calls, 2)
	}
	s := Summarize(results)
	assert.Equal(t, 0, s.Scored)
	assert.True(t, math.IsNaN(s.Precision.Mean))
}

func TestRunParallelMatchesSequential(t *testing.T) {
	// The profile's randomness comes only from the trial's source, so the
	// results must not depend on how trials are scheduled.
	pre := preFunc(func(ctx context.Context, rng *rand.Rand) (Sample, error) {
		bins := profile()
		for i := range bins {
			bins[i].RD += rng.Float64()
		}
		return Sample{Bins: bins, Baseline: 100}, nil
	})
	opts := DefaultOpts
	opts.Trials = 7
	opts.Seed = 3
	seq, err := Run(context.Background(), pre, opts)
	require.NoError(t, err)
	opts.Parallelism = 3
	par, err := Run(context.Background(), pre, opts)
	require.NoError(t, err)
	require.Len(t, par, len(seq))
	for i := range seq {
		assert.NoError(t, par[i].Err)
		assert.Equal(t, seq[i].Neighbors, par[i].Neighbors, "trial %d", i)
		assert.Equal(t, seq[i].Calls, par[i].Calls, "trial %d", i)
	}
}

func TestRunTrialFailuresAreIsolated(t *testing.T) {
	n := 0
	pre := preFunc(func(ctx context.Context, rng *rand.Rand) (Sample, error) {
		n++
		switch n {
		case 2:
			return Sample{}, errors.E(errors.NotExist, "segment table missing")
		case 3:
			return Sample{Bins: profile()[:1], Baseline: 100}, nil
		case 4:
			panic("boom")
		}
		return Sample{Bins: profile(), Baseline: 100}, nil
	})
	opts := DefaultOpts
	opts.Truth = profileTruth
	results, err := Run(context.Background(), pre, opts)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(errors.NotExist, results[1].Err), "%v", results[1].Err)
	assert.True(t, errors.Is(errors.Invalid, results[2].Err), "%v", results[2].Err)
	require.Error(t, results[3].Err)
	assert.True(t, strings.Contains(results[3].Err.Error(), "boom"))
	assert.NoError(t, results[4].Err)

	s := Summarize(results)
	assert.Equal(t, 5, s.Trials)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, Stat{1, 0}, s.FScore)
}

func TestRunTrialTimeout(t *testing.T) {
	pre := preFunc(func(ctx context.Context, rng *rand.Rand) (Sample, error) {
		<-ctx.Done()
		return Sample{}, ctx.Err()
	})
	opts := DefaultOpts
	opts.Trials = 2
	opts.TrialTimeout = 10 * time.Millisecond
	results, err := Run(context.Background(), pre, opts)
	require.NoError(t, err)
	for _, r := range results {
		assert.Error(t, r.Err)
	}
}

type constScorer struct{}

func (constScorer) Score(values []float64, k int) ([]float64, error) {
	return make([]float64, len(values)-1), nil
}

func TestRunPluggableStages(t *testing.T) {
	opts := DefaultOpts
	opts.Trials = 1
	opts.Classifier = ClassifierFunc(func(scores []float64) ([]bool, error) {
		labels := make([]bool, len(scores))
		labels[0] = true
		return labels, nil
	})
	results, err := Run(context.Background(), fixedPre{profile(), 100}, opts)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, []cnv.Call{{Chr: "chr1", Start: 1, End: 1000, RD: 99.6, Type: cnv.Deletion}}, results[0].Calls)

	opts.Scorer = constScorer{}
	results, err = Run(context.Background(), fixedPre{profile(), 100}, opts)
	require.NoError(t, err)
	assert.True(t, errors.Is(errors.Invalid, results[0].Err), "%v", results[0].Err)
}

func TestRunInvalidOpts(t *testing.T) {
	pre := fixedPre{profile(), 100}
	for _, mod := range []func(*Opts){
		func(o *Opts) { o.Trials = 0 },
		func(o *Opts) { o.MinNeighborFrac, o.MaxNeighborFrac = 0.4, 0.3 },
		func(o *Opts) { o.MaxNeighborFrac = 1.5 },
		func(o *Opts) { o.TrialTimeout = -time.Second },
	} {
		opts := DefaultOpts
		mod(&opts)
		_, err := Run(context.Background(), pre, opts)
		assert.True(t, errors.Is(errors.Invalid, err), "%+v", opts)
	}
	_, err := Run(context.Background(), nil, DefaultOpts)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestSummarize(t *testing.T) {
	results := []TrialResult{
		{Calls: make([]cnv.Call, 2), Performance: &cnv.Performance{Precision: 1, Sensitivity: 0.5, FScore: 2.0 / 3}},
		{Calls: make([]cnv.Call, 4), Performance: &cnv.Performance{Precision: 0.5, Sensitivity: 0.5, FScore: 0.5}},
		{Err: fmt.Errorf("failed")},
	}
	s := Summarize(results)
	assert.Equal(t, 3, s.Trials)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 2, s.Scored)
	assert.Equal(t, 3.0, s.Calls)
	assert.InDelta(t, 0.75, s.Precision.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(0.125), s.Precision.StdDev, 1e-12)
	assert.InDelta(t, 0.5, s.Sensitivity.Mean, 1e-12)
	assert.InDelta(t, 0, s.Sensitivity.StdDev, 1e-12)
	assert.InDelta(t, 7.0/12, s.FScore.Mean, 1e-12)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, "run-1", s))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(SummaryColumns, "\t"), lines[0])
	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, len(SummaryColumns))
	assert.Equal(t, []string{"run-1", "3", "2", "2", "3", "0.75"}, fields[:6])
}
