package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/knncnv"
	"github.com/grailbio/knncnv/cnv"
	"github.com/grailbio/knncnv/depth"
)

type callFlags struct {
	depth     depth.Opts
	run       knncnv.Opts
	truthPath string
	out       string
}

func truthFlavor(simulation bool) cnv.TruthFlavor {
	if simulation {
		return cnv.SimulatedTruth
	}
	return cnv.RealTruth
}

// call runs the trials and writes their calls and summary.  Per-trial
// performance is printed to stdout when truth is given.
func call(ctx context.Context, bamPath, faPath string, f callFlags, stdout io.Writer) error {
	runID := uuid.New().String()
	log.Printf("bio-knncnv: run %s: %s, seed %d", runID, bamPath, f.run.Seed)
	if f.truthPath != "" {
		truth, err := cnv.ReadTruth(ctx, f.truthPath, truthFlavor(f.depth.IsSimulation))
		if err != nil {
			return err
		}
		if len(truth) == 0 {
			log.Printf("bio-knncnv: run %s: %s has no intervals; sensitivity will be 0", runID, f.truthPath)
		}
		f.run.Truth = truth
	}
	d, err := depth.Load(ctx, bamPath, faPath, f.depth)
	if err != nil {
		return err
	}
	results, err := knncnv.Run(ctx, d, f.run)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		path := fmt.Sprintf("%s.trial%d.tsv", f.out, r.Trial)
		if err := cnv.WriteCalls(ctx, path, r.Calls); err != nil {
			return err
		}
		if r.Performance != nil {
			fmt.Fprintf(stdout, "trial %d\t%s\n", r.Trial, r.Performance)
		}
	}
	s := knncnv.Summarize(results)
	if err := writeSummary(ctx, f.out+".summary.tsv", runID, s); err != nil {
		return err
	}
	log.Printf("bio-knncnv: run %s: %d of %d trials succeeded", runID, s.Succeeded, s.Trials)
	if s.Succeeded == 0 {
		return errors.E(fmt.Sprintf("bio-knncnv: run %s: all %d trials failed, last error: %v", runID, s.Trials, results[len(results)-1].Err))
	}
	return nil
}

func writeSummary(ctx context.Context, path, runID string, s knncnv.Summary) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if err = knncnv.WriteSummary(dst.Writer(ctx), runID, s); err != nil {
		err = errors.E(err, "write", path)
	}
	return
}

// eval scores a saved call table against truth and prints the result.
func eval(ctx context.Context, callsPath, truthPath string, simulation bool, stdout io.Writer) error {
	calls, err := cnv.ReadCalls(ctx, callsPath)
	if err != nil {
		return err
	}
	truth, err := cnv.ReadTruth(ctx, truthPath, truthFlavor(simulation))
	if err != nil {
		return err
	}
	perf, err := cnv.Score(calls, truth)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, perf)
	return nil
}
