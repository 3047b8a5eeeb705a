package cnv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// TruthFlavor selects the column layout of a ground-truth table.
type TruthFlavor int

const (
	// RealTruth tables carry "variant type", "start" and "stop" columns.
	RealTruth TruthFlavor = iota
	// SimulatedTruth tables carry "state", "start" and "end" columns; a state
	// of "gain" is a duplication and any other state is a deletion.
	SimulatedTruth
)

func (f TruthFlavor) String() string {
	if f == SimulatedTruth {
		return "simulated"
	}
	return "real"
}

type truthColumns struct {
	typ, start, end string
}

func (f TruthFlavor) columns() truthColumns {
	if f == SimulatedTruth {
		return truthColumns{typ: "state", start: "start", end: "end"}
	}
	return truthColumns{typ: "variant type", start: "start", end: "stop"}
}

// parseType maps a truth table's type value to a Type.  Real tables may
// carry variant types the caller never emits; those become Other, so they
// count toward the truth length without matching any call.
func (f TruthFlavor) parseType(s string) Type {
	if f == SimulatedTruth {
		if s == "gain" {
			return Duplication
		}
		return Deletion
	}
	t, err := ParseType(s)
	if err != nil {
		return Other
	}
	return t
}

// chrColumns are the header names accepted for an optional chromosome column.
var chrColumns = []string{"chr", "chrom", "chromosome", "#chr", "#chrom"}

// header maps column names to their index in a header row.
type header map[string]int

func newHeader(row []string) header {
	h := header{}
	for i, name := range row {
		h[strings.TrimSpace(name)] = i
	}
	return h
}

func (h header) index(path string, names ...string) (int, error) {
	for _, name := range names {
		if i, ok := h[name]; ok {
			return i, nil
		}
	}
	return -1, errors.E(errors.Invalid, fmt.Sprintf("%s: missing column %q", path, names[0]))
}

func (h header) optional(names ...string) int {
	for _, name := range names {
		if i, ok := h[name]; ok {
			return i
		}
	}
	return -1
}

// openTable opens a tab-separated table at path, decompressing it if the
// path suffix says so.  The returned close function must be called once
// reading is done.
func openTable(ctx context.Context, path string) (*tsv.Reader, func() error, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open", path)
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	tr := tsv.NewReader(bufio.NewReaderSize(r, 64<<10))
	tr.LazyQuotes = true
	tr.FieldsPerRecord = -1
	// readRows keeps every record.
	tr.ReuseRecord = false
	return tr, func() error { return in.Close(ctx) }, nil
}

// readRows reads the header and every record of a table.  Rows whose first
// field starts with '#' are skipped; the header row itself may start with
// '#', as in BED-like files.
func readRows(ctx context.Context, path string) (header, [][]string, error) {
	tr, closeFn, err := openTable(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	headerRow, err := tr.Reader.Read()
	if err != nil {
		closeFn() // nolint: errcheck
		if err == io.EOF {
			return nil, nil, errors.E(errors.Invalid, fmt.Sprintf("%s: empty table", path))
		}
		return nil, nil, errors.E(err, "read", path)
	}
	var rows [][]string
	for {
		row, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeFn() // nolint: errcheck
			return nil, nil, errors.E(err, "read", path)
		}
		if len(row) > 0 && strings.HasPrefix(row[0], "#") {
			continue
		}
		rows = append(rows, row)
	}
	if err := closeFn(); err != nil {
		return nil, nil, errors.E(err, "close", path)
	}
	return newHeader(headerRow), rows, nil
}

func parseCoord(path string, line int, field, value string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.E(errors.Invalid, err, fmt.Sprintf("%s:%d: bad %s %q", path, line, field, value))
	}
	return v, nil
}

// ReadTruth loads a ground-truth table.  The layout is selected by flavor;
// either layout may additionally carry a chromosome column (chr, chrom or
// chromosome), which scopes its intervals to that chromosome.
func ReadTruth(ctx context.Context, path string, flavor TruthFlavor) ([]Truth, error) {
	h, rows, err := readRows(ctx, path)
	if err != nil {
		return nil, err
	}
	cols := flavor.columns()
	typeIdx, err := h.index(path, cols.typ)
	if err != nil {
		return nil, err
	}
	startIdx, err := h.index(path, cols.start)
	if err != nil {
		return nil, err
	}
	endIdx, err := h.index(path, cols.end)
	if err != nil {
		return nil, err
	}
	chrIdx := h.optional(chrColumns...)

	truth := make([]Truth, 0, len(rows))
	nOther := 0
	for i, row := range rows {
		line := i + 2
		if len(row) <= typeIdx || len(row) <= startIdx || len(row) <= endIdx {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: expected at least %d columns, found %d", path, line, len(h), len(row)))
		}
		var t Truth
		if t.Start, err = parseCoord(path, line, cols.start, row[startIdx]); err != nil {
			return nil, err
		}
		if t.End, err = parseCoord(path, line, cols.end, row[endIdx]); err != nil {
			return nil, err
		}
		if t.End < t.Start {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: end %d < start %d", path, line, t.End, t.Start))
		}
		if t.Type = flavor.parseType(row[typeIdx]); t.Type == Other {
			nOther++
		}
		if chrIdx >= 0 && chrIdx < len(row) {
			t.Chr = row[chrIdx]
		}
		truth = append(truth, t)
	}
	if nOther > 0 {
		log.Printf("cnv: %s: %d of %d intervals have a variant type other than duplication or deletion", path, nOther, len(truth))
	}
	return truth, nil
}
