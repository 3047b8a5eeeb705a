// Package fasta reads reference sequences from FASTA files.  FASTA files
// consist of a number of named sequences that may be interrupted by
// newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Sequence names are the stretch of characters excluding spaces immediately
// after '>'; '>chr1 A viral sequence' becomes 'chr1'.
package fasta

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

const maxLineSize = 1024 * 1024 * 300 // 300 MB

// Fasta is an in-memory set of named sequences.
type Fasta interface {
	// Get returns the bases of the given sequence in the 0-based half-open
	// interval [start, end).
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance
	// in the FASTA file.
	SeqNames() []string

	// Composition summarizes the given sequence in consecutive bins of
	// binSize bases.  The last bin may be shorter.
	Composition(seqName string, binSize int) ([]BinComposition, error)
}

// BinComposition counts the bases of one reference bin.
type BinComposition struct {
	// Len is the number of bases in the bin.
	Len int
	// GC is the number of G, C or S bases.
	GC int
	// N is the number of bases other than A, C, G, T and S, in either case.
	N int
}

// GCFraction returns the GC share of the bin's called bases, or 0 when the
// bin has none.
func (b BinComposition) GCFraction() float64 {
	called := b.Len - b.N
	if called <= 0 {
		return 0
	}
	return float64(b.GC) / float64(called)
}

type fasta struct {
	seqs     map[string][]byte
	seqNames []string
}

// New reads all FASTA data from r into memory.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string][]byte)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineSize)
	var (
		seqName string
		seq     []byte
		inSeq   bool
	)
	save := func() error {
		if !inSeq {
			if len(seq) != 0 {
				return errors.Errorf("malformed FASTA file: bases before the first sequence name")
			}
			return nil
		}
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("malformed FASTA file: duplicate sequence %s", seqName)
		}
		f.seqs[seqName] = seq
		f.seqNames = append(f.seqNames, seqName)
		return nil
	}
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := save(); err != nil {
				return nil, err
			}
			name := line[1:]
			if i := bytes.IndexByte(name, ' '); i >= 0 {
				name = name[:i]
			}
			seqName = string(name)
			seq = nil
			inSeq = true
			continue
		}
		seq = append(seq, line...)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if err := save(); err != nil {
		return nil, err
	}
	if len(f.seqNames) == 0 {
		return nil, errors.Errorf("empty FASTA file")
	}
	return f, nil
}

func (f *fasta) seq(seqName string) ([]byte, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return nil, errors.Errorf("sequence not found: %s", seqName)
	}
	return s, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, err := f.seq(seqName)
	if err != nil {
		return "", err
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return string(s[start:end]), nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seqName string) (uint64, error) {
	s, err := f.seq(seqName)
	if err != nil {
		return 0, err
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}

// baseClass maps a base to 0 (A/T), 1 (G/C/S) or 2 (anything else).
var baseClass = func() (t [256]uint8) {
	for i := range t {
		t[i] = 2
	}
	for _, b := range []byte("ATat") {
		t[b] = 0
	}
	for _, b := range []byte("GCSgcs") {
		t[b] = 1
	}
	return
}()

// Composition implements Fasta.Composition().
func (f *fasta) Composition(seqName string, binSize int) ([]BinComposition, error) {
	if binSize <= 0 {
		return nil, errors.Errorf("invalid bin size %d", binSize)
	}
	s, err := f.seq(seqName)
	if err != nil {
		return nil, err
	}
	bins := make([]BinComposition, (len(s)+binSize-1)/binSize)
	for i := range bins {
		start := i * binSize
		end := start + binSize
		if end > len(s) {
			end = len(s)
		}
		b := &bins[i]
		b.Len = end - start
		for _, base := range s[start:end] {
			switch baseClass[base] {
			case 1:
				b.GC++
			case 2:
				b.N++
			}
		}
	}
	return bins, nil
}
