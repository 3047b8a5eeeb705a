package cnv

import (
	"fmt"
	"math"
	"strings"

	"github.com/grailbio/base/errors"
)

// Type is the direction of a copy-number change.
type Type uint8

const (
	// Deletion is a loss of copy number.  It is the zero-depth side of the
	// baseline, and also the classification of a bin whose depth equals the
	// baseline exactly.
	Deletion Type = iota + 1
	// Duplication is a gain of copy number.
	Duplication
	// Other is a truth interval whose variant type is neither of the above,
	// such as an inversion.  Calls never have this type.
	Other
)

// String returns the name used in call and truth tables.
func (t Type) String() string {
	switch t {
	case Deletion:
		return "deletion"
	case Duplication:
		return "duplication"
	case Other:
		return "other"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType parses a CNV type name.  Besides the canonical names it accepts
// the dup/del and gain/loss spellings common in truth sets, ignoring case.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "duplication", "dup", "gain":
		return Duplication, nil
	case "deletion", "del", "loss":
		return Deletion, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("cnv: unknown variant type %q", s))
}

// Classify maps a read depth to a CNV type: depths strictly above baseline
// are duplications, everything else is a deletion.
func Classify(rd, baseline float64) Type {
	if rd > baseline {
		return Duplication
	}
	return Deletion
}

// Bin is one genomic segment with its read depth.  Start and End are 1-based
// and inclusive.
type Bin struct {
	Chr   string
	Start int
	End   int
	RD    float64
}

// Len returns the number of bases covered by the bin.
func (b Bin) Len() int { return b.End - b.Start + 1 }

// Call is a merged, typed CNV region.  RD is the read depth of the leftmost
// bin that contributed to the call.
type Call struct {
	Chr   string
	Start int
	End   int
	RD    float64
	Type  Type
}

// Len returns the number of bases covered by the call.
func (c Call) Len() int { return c.End - c.Start + 1 }

// String returns "chr:start-end[type]".
func (c Call) String() string {
	return fmt.Sprintf("%s:%d-%d[%v]", c.Chr, c.Start, c.End, c.Type)
}

// Truth is one ground-truth CNV interval.  An empty Chr matches calls on any
// chromosome.
type Truth struct {
	Chr   string
	Start int
	End   int
	Type  Type
}

// Len returns the number of bases covered by the interval.
func (t Truth) Len() int { return t.End - t.Start + 1 }

func (t Truth) String() string {
	if t.Chr == "" {
		return fmt.Sprintf("%d-%d[%v]", t.Start, t.End, t.Type)
	}
	return fmt.Sprintf("%s:%d-%d[%v]", t.Chr, t.Start, t.End, t.Type)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
