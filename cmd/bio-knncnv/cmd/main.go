package cmd

import (
	"fmt"
	"time"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/knncnv"
	"github.com/grailbio/knncnv/depth"
	"v.io/x/lib/cmdline"
)

// addDepthFlags registers the preprocessing flags shared by call and depth.
func addDepthFlags(cmd *cmdline.Command, opts *depth.Opts) {
	cmd.Flags.IntVar(&opts.BinSize, "bin-size", depth.DefaultOpts.BinSize, "Bin width in bases")
	cmd.Flags.StringVar(&opts.CBSImpl, "cbs", depth.DefaultOpts.CBSImpl, `Segmentation implementation.
"python" segments in-process; "R" reads a DNAcopy segment table given by -seg.`)
	cmd.Flags.IntVar(&opts.NCol, "ncol", depth.DefaultOpts.NCol, "Number of partitions the bins were split into for DNAcopy. Only used with -cbs=R")
	cmd.Flags.StringVar(&opts.SegPath, "seg", "", "DNAcopy segment table. Required with -cbs=R")
	cmd.Flags.BoolVar(&opts.IsSimulation, "simulation", false, `The sample is simulated: keep duplicate and low-MAPQ reads, and read
ground truth as a simulator table (state/start/end columns)`)
	cmd.Flags.IntVar(&opts.MinMapQ, "min-mapq", depth.DefaultOpts.MinMapQ, "Reads with MAPQ below this level are skipped")
}

func newCmdCall() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "call",
		Short:    "Call CNVs from a BAM file",
		ArgsName: "bampath fapath",
		Long: `
Call runs several independent trials over the read-depth profile of bampath,
using the reference at fapath. Trial i writes its calls to <out>.trial<i>.tsv,
and <out>.summary.tsv aggregates all trials.`,
	}
	f := callFlags{depth: depth.DefaultOpts, run: knncnv.DefaultOpts}
	addDepthFlags(cmd, &f.depth)
	cmd.Flags.StringVar(&f.truthPath, "truth", "", "Ground-truth table. If set, every trial is scored against it")
	cmd.Flags.IntVar(&f.run.Trials, "trials", knncnv.DefaultOpts.Trials, "Number of independent trials")
	cmd.Flags.Float64Var(&f.run.MinNeighborFrac, "min-neighbor-frac", knncnv.DefaultOpts.MinNeighborFrac, "Lower bound of the neighbor count, as a fraction of the segment count")
	cmd.Flags.Float64Var(&f.run.MaxNeighborFrac, "max-neighbor-frac", knncnv.DefaultOpts.MaxNeighborFrac, "Upper bound (exclusive) of the neighbor count, as a fraction of the segment count")
	cmd.Flags.Int64Var(&f.run.Seed, "seed", 0, "Seed of trial 0; trial i uses seed+i. 0 picks a seed from the clock")
	cmd.Flags.IntVar(&f.run.Parallelism, "parallelism", knncnv.DefaultOpts.Parallelism, "Number of trials run concurrently; 0 = runtime.NumCPU()")
	cmd.Flags.DurationVar(&f.run.TrialTimeout, "trial-timeout", 0, "Time limit of each trial; 0 = none")
	cmd.Flags.StringVar(&f.out, "out", "bio-knncnv", "Output path prefix")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("call takes bampath fapath, but got %v", argv)
		}
		if f.run.Seed == 0 {
			f.run.Seed = time.Now().UnixNano()
		}
		return call(vcontext.Background(), argv[0], argv[1], f, env.Stdout)
	})
	return cmd
}

func newCmdEval() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "eval",
		Short:    "Score a call table against ground truth",
		ArgsName: "callspath truthpath",
	}
	simulation := cmd.Flags.Bool("simulation", false, "Read truthpath as a simulator table (state/start/end columns)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("eval takes callspath truthpath, but got %v", argv)
		}
		return eval(vcontext.Background(), argv[0], argv[1], *simulation, env.Stdout)
	})
	return cmd
}

func newCmdDepth() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "depth",
		Short:    "Write the segmented read-depth profile of a BAM file",
		ArgsName: "bampath fapath outpath",
	}
	opts := depth.DefaultOpts
	addDepthFlags(cmd, &opts)
	seed := cmd.Flags.Int64("seed", 0, "Seed of the segmentation's random source")
	bins := cmd.Flags.Bool("bins", false, "Write the unsegmented, GC-corrected bins instead of segments")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("depth takes bampath fapath outpath, but got %v", argv)
		}
		return writeDepth(vcontext.Background(), argv[0], argv[1], argv[2], opts, *seed, *bins)
	})
	return cmd
}

// Run is the entry point of bio-knncnv.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-knncnv",
			Short:    "Call copy-number variants from read depth",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdCall(),
				newCmdEval(),
				newCmdDepth(),
			},
		})
}
