package cmd

import (
	"context"
	"math/rand"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/knncnv/cnv"
	"github.com/grailbio/knncnv/depth"
)

var depthColumns = []string{"chr", "start", "end", "RD"}

// writeDepth runs one preprocessing pass and writes the resulting segments,
// or the bins they were built from, to outPath.
func writeDepth(ctx context.Context, bamPath, faPath, outPath string, opts depth.Opts, seed int64, bins bool) (err error) {
	d, err := depth.Load(ctx, bamPath, faPath, opts)
	if err != nil {
		return err
	}
	rows := d.Bins()
	if !bins {
		sample, err := d.Preprocess(ctx, rand.New(rand.NewSource(seed)))
		if err != nil {
			return err
		}
		rows = sample.Bins
	}
	log.Printf("bio-knncnv: writing %d rows to %s, baseline %v", len(rows), outPath, d.Baseline())

	var dst file.File
	if dst, err = file.Create(ctx, outPath); err != nil {
		return errors.E(err, "create", outPath)
	}
	defer file.CloseAndReport(ctx, dst, &err)
	out := tsv.NewWriter(dst.Writer(ctx))
	out.WriteString(strings.Join(depthColumns, "\t"))
	if err = out.EndLine(); err != nil {
		return errors.E(err, "write", outPath)
	}
	for _, b := range rows {
		out.WriteString(b.Chr)
		out.WriteInt64(int64(b.Start))
		out.WriteInt64(int64(b.End))
		out.WriteString(cnv.FormatRD(b.RD))
		if err = out.EndLine(); err != nil {
			return errors.E(err, "write", outPath)
		}
	}
	if err = out.Flush(); err != nil {
		return errors.E(err, "write", outPath)
	}
	return nil
}
