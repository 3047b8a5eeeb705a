// Package mixture splits a one-dimensional score distribution into inliers
// and outliers with a two-component Gaussian mixture.
package mixture

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Opts controls model fitting.
type Opts struct {
	// MaxIter bounds the number of EM iterations.
	MaxIter int
	// Tol is the convergence threshold on the change in mean per-observation
	// log-likelihood between iterations.
	Tol float64
	// RegCovar is added to each component variance to keep it positive.
	RegCovar float64
}

// DefaultOpts are the fitting defaults.
var DefaultOpts = Opts{
	MaxIter:  100,
	Tol:      1e-3,
	RegCovar: 1e-6,
}

// Component is one fitted Gaussian.
type Component struct {
	Weight   float64
	Mean     float64
	Variance float64
}

// Model is a fitted two-component mixture.
type Model struct {
	Components [2]Component
	// Iter is the number of EM iterations run.
	Iter int
	// Converged reports whether the fit met Opts.Tol within Opts.MaxIter.
	Converged bool
}

// Outlier returns the index of the component with the larger mean.
func (m *Model) Outlier() int {
	if m.Components[1].Mean > m.Components[0].Mean {
		return 1
	}
	return 0
}

// logJoint fills dst with log(weight_k * N(x | mean_k, var_k)) for both
// components.
func (m *Model) logJoint(x float64, dst *[2]float64) {
	for k, c := range m.Components {
		n := distuv.Normal{Mu: c.Mean, Sigma: math.Sqrt(c.Variance)}
		dst[k] = math.Log(c.Weight) + n.LogProb(x)
	}
}

// Predict returns the index of the component each observation most likely
// belongs to.
func (m *Model) Predict(x []float64) []int {
	labels := make([]int, len(x))
	var lj [2]float64
	for i, v := range x {
		m.logJoint(v, &lj)
		if lj[1] > lj[0] {
			labels[i] = 1
		}
	}
	return labels
}

func validate(x []float64) error {
	if len(x) < 2 {
		return errors.E(errors.Invalid, fmt.Sprintf("mixture: need at least 2 observations, got %d", len(x)))
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.E(errors.Invalid, fmt.Sprintf("mixture: observation %d is %v", i, v))
		}
	}
	return nil
}

// split2 returns the index k in [1, len(sorted)) that minimizes the total
// within-group sum of squares of sorted[:k] and sorted[k:].  This is the exact
// 1-D 2-means partition; ties keep the smallest k.
func split2(sorted []float64) int {
	n := len(sorted)
	prefix := make([]float64, n+1)
	prefixSq := make([]float64, n+1)
	for i, v := range sorted {
		prefix[i+1] = prefix[i] + v
		prefixSq[i+1] = prefixSq[i] + v*v
	}
	ss := func(lo, hi int) float64 {
		s := prefix[hi] - prefix[lo]
		return prefixSq[hi] - prefixSq[lo] - s*s/float64(hi-lo)
	}
	best, bestSS := 1, ss(0, 1)+ss(1, n)
	for k := 2; k < n; k++ {
		if v := ss(0, k) + ss(k, n); v < bestSS-1e-12*math.Abs(bestSS) {
			best, bestSS = k, v
		}
	}
	return best
}

// Fit estimates a two-component mixture by expectation-maximization.  The
// components are initialized from the exact 2-means partition of x, so a fit
// is a deterministic function of x and opts.
func Fit(x []float64, opts Opts) (*Model, error) {
	if err := validate(x); err != nil {
		return nil, err
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	k := split2(sorted)
	m := &Model{}
	for c, group := range [][]float64{sorted[:k], sorted[k:]} {
		mean, variance := stat.PopMeanVariance(group, nil)
		m.Components[c] = Component{
			Weight:   float64(len(group)) / float64(len(x)),
			Mean:     mean,
			Variance: variance + opts.RegCovar,
		}
	}

	n := float64(len(x))
	resp := make([]float64, len(x)) // responsibility of component 1
	prevLL := math.Inf(-1)
	var lj [2]float64
	for m.Iter = 1; m.Iter <= opts.MaxIter; m.Iter++ {
		// E step.
		ll := 0.0
		for i, v := range x {
			m.logJoint(v, &lj)
			norm := floats.LogSumExp(lj[:])
			ll += norm
			resp[i] = math.Exp(lj[1] - norm)
		}
		ll /= n

		// M step.
		var nk [2]float64
		var sum [2]float64
		for i, v := range x {
			nk[0] += 1 - resp[i]
			nk[1] += resp[i]
			sum[0] += (1 - resp[i]) * v
			sum[1] += resp[i] * v
		}
		for k := range m.Components {
			c := &m.Components[k]
			if nk[k] < 10*math.SmallestNonzeroFloat64 {
				// The component lost all of its mass.  Freeze it with zero
				// weight so it never claims an observation.
				c.Weight = 0
				continue
			}
			c.Weight = nk[k] / n
			c.Mean = sum[k] / nk[k]
			ss := 0.0
			for i, v := range x {
				r := resp[i]
				if k == 0 {
					r = 1 - r
				}
				d := v - c.Mean
				ss += r * d * d
			}
			c.Variance = ss/nk[k] + opts.RegCovar
		}
		if math.Abs(ll-prevLL) < opts.Tol {
			m.Converged = true
			break
		}
		prevLL = ll
	}
	if m.Iter > opts.MaxIter {
		m.Iter = opts.MaxIter
	}
	return m, nil
}

// Classify labels each score as an outlier (true) or inlier (false).  The
// scores are fitted with a two-component mixture using DefaultOpts, and the
// component with the larger mean is the outlier component.  Scores without
// two distinct modes, e.g. all identical, are all inliers.
func Classify(scores []float64) ([]bool, error) {
	return ClassifyOpts(scores, DefaultOpts)
}

// ClassifyOpts is Classify with explicit fitting options.
func ClassifyOpts(scores []float64, opts Opts) ([]bool, error) {
	m, err := Fit(scores, opts)
	if err != nil {
		return nil, err
	}
	labels := make([]bool, len(scores))
	if floats.Min(scores) == floats.Max(scores) || m.Components[0].Mean == m.Components[1].Mean {
		return labels, nil
	}
	if !m.Converged {
		log.Debug.Printf("mixture: EM stopped after %d iterations without converging", m.Iter)
	}
	outlier := m.Outlier()
	for i, k := range m.Predict(scores) {
		labels[i] = k == outlier
	}
	return labels, nil
}
