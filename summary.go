package knncnv

import (
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
	"gonum.org/v1/gonum/stat"
)

// Stat is the mean and sample standard deviation of a per-trial metric.
type Stat struct {
	Mean, StdDev float64
}

// Summary aggregates the results of a call run.
type Summary struct {
	Trials    int
	Succeeded int
	// Scored is the number of successful trials with a Performance.
	Scored int
	// Calls is the mean number of calls per successful trial.
	Calls                          float64
	Precision, Sensitivity, FScore Stat
}

// Summarize aggregates trial results.  Failed trials only count towards
// Trials.  The standard deviations are NaN with fewer than two scored
// trials, and the means are NaN with none.
func Summarize(results []TrialResult) Summary {
	s := Summary{Trials: len(results)}
	var calls, precision, sensitivity, fscore []float64
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		s.Succeeded++
		calls = append(calls, float64(len(r.Calls)))
		if r.Performance == nil {
			continue
		}
		s.Scored++
		precision = append(precision, r.Performance.Precision)
		sensitivity = append(sensitivity, r.Performance.Sensitivity)
		fscore = append(fscore, r.Performance.FScore)
	}
	s.Calls = stat.Mean(calls, nil)
	s.Precision = meanStdDev(precision)
	s.Sensitivity = meanStdDev(sensitivity)
	s.FScore = meanStdDev(fscore)
	return s
}

func meanStdDev(x []float64) Stat {
	m, sd := stat.MeanStdDev(x, nil)
	return Stat{Mean: m, StdDev: sd}
}

// SummaryColumns is the header of the table written by WriteSummary.
var SummaryColumns = []string{"run", "trials", "succeeded", "scored", "mean_calls",
	"precision_mean", "precision_sd", "sensitivity_mean", "sensitivity_sd", "fscore_mean", "fscore_sd"}

// WriteSummary writes s to w as a one-row table tagged with runID.
func WriteSummary(w io.Writer, runID string, s Summary) error {
	out := tsv.NewWriter(w)
	out.WriteString(strings.Join(SummaryColumns, "\t"))
	if err := out.EndLine(); err != nil {
		return err
	}
	out.WriteString(runID)
	out.WriteInt64(int64(s.Trials))
	out.WriteInt64(int64(s.Succeeded))
	out.WriteInt64(int64(s.Scored))
	out.WriteString(formatFloat(s.Calls))
	for _, st := range []Stat{s.Precision, s.Sensitivity, s.FScore} {
		out.WriteString(formatFloat(st.Mean))
		out.WriteString(formatFloat(st.StdDev))
	}
	if err := out.EndLine(); err != nil {
		return err
	}
	return out.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}
