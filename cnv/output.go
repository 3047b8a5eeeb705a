package cnv

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// CallColumns is the header of a call table.
var CallColumns = []string{"chr", "start", "end", "type", "RD"}

// FormatRD renders a read depth the way call tables store it.
func FormatRD(rd float64) string {
	return strconv.FormatFloat(rd, 'f', -1, 64)
}

// writeCallRows writes the header and one row per call.
func writeCallRows(w io.Writer, calls []Call) error {
	out := tsv.NewWriter(w)
	out.WriteString(strings.Join(CallColumns, "\t"))
	if err := out.EndLine(); err != nil {
		return err
	}
	for _, c := range calls {
		out.WriteString(c.Chr)
		out.WriteInt64(int64(c.Start))
		out.WriteInt64(int64(c.End))
		out.WriteString(c.Type.String())
		out.WriteString(FormatRD(c.RD))
		if err := out.EndLine(); err != nil {
			return err
		}
	}
	return out.Flush()
}

// WriteCalls writes calls as a tab-separated table with CallColumns as its
// header.  A path ending in ".gz" is gzip-compressed.
func WriteCalls(ctx context.Context, path string, calls []Call) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if !strings.HasSuffix(path, ".gz") {
		if err = writeCallRows(dst.Writer(ctx), calls); err != nil {
			err = errors.E(err, "write", path)
		}
		return
	}
	zw := gzip.NewWriter(dst.Writer(ctx))
	if err = writeCallRows(zw, calls); err != nil {
		zw.Close() // nolint: errcheck
		return errors.E(err, "write", path)
	}
	if err = zw.Close(); err != nil {
		err = errors.E(err, "close gzip stream", path)
	}
	return
}

// ReadCalls reads a table written by WriteCalls.  Columns are located by
// name, so extra columns are tolerated.
func ReadCalls(ctx context.Context, path string) ([]Call, error) {
	h, rows, err := readRows(ctx, path)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(CallColumns))
	for i, name := range CallColumns {
		if idx[i], err = h.index(path, name); err != nil {
			return nil, err
		}
	}
	calls := make([]Call, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		for _, j := range idx {
			if j >= len(row) {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: expected %d columns, found %d", path, line, len(h), len(row)))
			}
		}
		c := Call{Chr: row[idx[0]]}
		if c.Start, err = parseCoord(path, line, "start", row[idx[1]]); err != nil {
			return nil, err
		}
		if c.End, err = parseCoord(path, line, "end", row[idx[2]]); err != nil {
			return nil, err
		}
		if c.Type, err = ParseType(row[idx[3]]); err != nil {
			return nil, errors.E(err, fmt.Sprintf("%s:%d", path, line))
		}
		if c.RD, err = strconv.ParseFloat(strings.TrimSpace(row[idx[4]]), 64); err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("%s:%d: bad RD %q", path, line, row[idx[4]]))
		}
		calls = append(calls, c)
	}
	return calls, nil
}
