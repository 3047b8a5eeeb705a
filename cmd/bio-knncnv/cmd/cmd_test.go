package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/knncnv"
	"github.com/grailbio/knncnv/cnv"
	"github.com/grailbio/knncnv/depth"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each chromosome has five 1kb bins of uniform depth; chr3 is duplicated.
var chromDepth = []struct {
	name  string
	reads int
}{{"chr1", 20}, {"chr2", 20}, {"chr3", 60}, {"chr4", 20}}

const chromLen = 5000

func writeInputs(t *testing.T, dir string) (bamPath, faPath string) {
	var (
		fa   strings.Builder
		refs []*sam.Reference
	)
	for _, c := range chromDepth {
		fmt.Fprintf(&fa, ">%s\n%s\n", c.name, strings.Repeat("ACGT", chromLen/4))
		ref, err := sam.NewReference(c.name, "", "", chromLen, nil, nil)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	header, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)

	var buf bytes.Buffer
	bw, err := bam.NewWriter(&buf, header, 1)
	require.NoError(t, err)
	seq := []byte("ACGTACGTAC")
	co := []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))}
	for i, c := range chromDepth {
		for bin := 0; bin < chromLen/1000; bin++ {
			for j := 0; j < c.reads; j++ {
				rec, err := sam.NewRecord(fmt.Sprintf("r%d.%d.%d", i, bin, j), refs[i], nil, bin*1000+j*10, -1, 0, 60, co, seq, nil, nil)
				require.NoError(t, err)
				require.NoError(t, bw.Write(rec))
			}
		}
	}
	require.NoError(t, bw.Close())

	bamPath = filepath.Join(dir, "sample.bam")
	faPath = filepath.Join(dir, "ref.fa")
	require.NoError(t, ioutil.WriteFile(bamPath, buf.Bytes(), 0644))
	require.NoError(t, ioutil.WriteFile(faPath, []byte(fa.String()), 0644))
	return
}

const realTruth = "chr\tvariant type\tstart\tstop\nchr3\tduplication\t1\t5000\n"

var wantCalls = []cnv.Call{{Chr: "chr3", Start: 1, End: 5000, RD: 60, Type: cnv.Duplication}}

func TestCall(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath, faPath := writeInputs(t, dir)
	truthPath := filepath.Join(dir, "truth.tsv")
	require.NoError(t, ioutil.WriteFile(truthPath, []byte(realTruth), 0644))
	ctx := context.Background()

	f := callFlags{depth: depth.DefaultOpts, run: knncnv.DefaultOpts}
	f.run.Trials = 3
	f.run.Seed = 1
	f.truthPath = truthPath
	f.out = filepath.Join(dir, "out")
	var stdout bytes.Buffer
	require.NoError(t, call(ctx, bamPath, faPath, f, &stdout))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, fmt.Sprintf("trial %d\t", i)), line)
		assert.Contains(t, line, "f-score: 1.0000")
		calls, err := cnv.ReadCalls(ctx, fmt.Sprintf("%s.trial%d.tsv", f.out, i))
		require.NoError(t, err)
		expect.EQ(t, calls, wantCalls)
	}

	summary, err := ioutil.ReadFile(f.out + ".summary.tsv")
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(summary)), "\n")
	require.Len(t, rows, 2)
	fields := strings.Split(rows[1], "\t")
	require.Len(t, fields, len(knncnv.SummaryColumns))
	assert.Len(t, fields[0], 36) // uuid
	assert.Equal(t, []string{"3", "3", "3", "1", "1", "0"}, fields[1:7])
}

func TestCallErrors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath, faPath := writeInputs(t, dir)
	ctx := context.Background()

	f := callFlags{depth: depth.DefaultOpts, run: knncnv.DefaultOpts, out: filepath.Join(dir, "out")}
	assert.Error(t, call(ctx, filepath.Join(dir, "missing.bam"), faPath, f, ioutil.Discard))

	f.truthPath = filepath.Join(dir, "missing.tsv")
	assert.Error(t, call(ctx, bamPath, faPath, f, ioutil.Discard))

	// A single chromosome yields a single segment, which no trial can
	// classify.
	f.truthPath = ""
	single := filepath.Join(dir, "single.fa")
	require.NoError(t, ioutil.WriteFile(single, []byte(">chr1\n"+strings.Repeat("ACGT", chromLen/4)+"\n"), 0644))
	err := call(ctx, bamPath, single, f, ioutil.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 5 trials failed")
}

func TestEval(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	callsPath := filepath.Join(dir, "calls.tsv.gz")
	require.NoError(t, cnv.WriteCalls(ctx, callsPath, []cnv.Call{
		{Chr: "chr1", Start: 100, End: 200, RD: 150, Type: cnv.Duplication},
	}))
	truthPath := filepath.Join(dir, "truth.tsv")
	require.NoError(t, ioutil.WriteFile(truthPath, []byte("state\tstart\tend\ngain\t150\t250\n"), 0644))

	var stdout bytes.Buffer
	require.NoError(t, eval(ctx, callsPath, truthPath, true, &stdout))
	expect.EQ(t, stdout.String(), "precision: 0.5050 (51 / 101) sensitivity: 0.5050 (51 / 101) f-score: 0.5050\n")

	// The real flavor needs a variant type column.
	assert.Error(t, eval(ctx, callsPath, truthPath, false, &stdout))
}

func TestWriteDepth(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath, faPath := writeInputs(t, dir)
	ctx := context.Background()

	outPath := filepath.Join(dir, "segments.tsv")
	require.NoError(t, writeDepth(ctx, bamPath, faPath, outPath, depth.DefaultOpts, 0, false))
	got, err := ioutil.ReadFile(outPath)
	require.NoError(t, err)
	expect.EQ(t, string(got), "chr\tstart\tend\tRD\n"+
		"chr1\t1\t5000\t20\n"+
		"chr2\t1\t5000\t20\n"+
		"chr3\t1\t5000\t60\n"+
		"chr4\t1\t5000\t20\n")

	require.NoError(t, writeDepth(ctx, bamPath, faPath, outPath, depth.DefaultOpts, 0, true))
	got, err = ioutil.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, 1+4*chromLen/1000, strings.Count(string(got), "\n"))
}
