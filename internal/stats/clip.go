// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package stats

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/nmiles2718/computesky/internal/qsort"
)

// Centre estimator used while clipping
type Center int

const (
	CenterMedian Center = iota
	CenterMean
)

// Scale estimator used while clipping
type Scale int

const (
	ScaleMAD    Scale = iota // median absolute deviation, normalized to a Gaussian standard deviation
	ScaleStdDev              // population standard deviation
)

// Normalizes a MAD to the standard deviation of a Gaussian
const madToSigma = 1.4826

// Options for iterative sigma clipping
type ClipOptions struct {
	Sigma    float64 `yaml:"sigma"`
	MaxIters int     `yaml:"max_iters"`
	Center   Center  `yaml:"-"`
	Scale    Scale   `yaml:"-"`
}

// Default clipping: 5 sigma, at most 5 iterations, median centre and MAD scale
func DefaultClipOptions() ClipOptions {
	return ClipOptions{Sigma: 5, MaxIters: 5, Center: CenterMedian, Scale: ScaleMAD}
}

// ParseCenter parses "median" or "mean"
func ParseCenter(s string) (Center, error) {
	switch strings.ToLower(s) {
	case "", "median":
		return CenterMedian, nil
	case "mean":
		return CenterMean, nil
	}
	return CenterMedian, fmt.Errorf("unknown clipping centre %q", s)
}

// ParseScale parses "mad" or "stddev"
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(s) {
	case "", "mad":
		return ScaleMAD, nil
	case "stddev", "std":
		return ScaleStdDev, nil
	}
	return ScaleMAD, fmt.Errorf("unknown clipping scale %q", s)
}

// Statistics of the values surviving sigma clipping
type Clipped struct {
	Mean       float64 // Mean of the survivors, NaN if none
	Median     float64 // Median of the survivors, NaN if none
	StdDev     float64 // Population standard deviation of the survivors, NaN if none
	N          int     // Number of survivors
	Rejected   int     // Number of values rejected by clipping, excluding non-finite ones
	Iterations int     // Number of clipping iterations performed
}

// Pretty print clipped stats to string
func (c *Clipped) String() string {
	return fmt.Sprintf("Mean %.6g Median %.6g StdDev %.6g N %d Rejected %d Iterations %d",
		c.Mean, c.Median, c.StdDev, c.N, c.Rejected, c.Iterations)
}

// SigmaClip iteratively rejects values further than opts.Sigma times the scale from the centre.
// Stops once no value is rejected or after opts.MaxIters iterations. Non-finite values are
// dropped up front. Does not change the data. An empty population yields NaN statistics.
func SigmaClip(data []float32, opts ClipOptions) *Clipped {
	remaining := make([]float32, 0, len(data))
	for _, d := range data {
		if !math.IsNaN(float64(d)) && !math.IsInf(float64(d), 0) {
			remaining = append(remaining, d)
		}
	}
	tmp := make([]float32, len(remaining))
	res := &Clipped{}

	for res.Iterations < opts.MaxIters && len(remaining) > 0 {
		center, scale := centerAndScale(remaining, tmp, opts)
		res.Iterations++

		// reject outliers based on sigma
		lowBound := center - opts.Sigma*scale
		highBound := center + opts.Sigma*scale
		kept := 0
		for _, r := range remaining {
			if float64(r) >= lowBound && float64(r) <= highBound {
				remaining[kept] = r
				kept++
			}
		}
		rejected := len(remaining) - kept
		remaining = remaining[:kept]
		res.Rejected += rejected

		if rejected == 0 {
			break
		}
	}

	res.N = len(remaining)
	if res.N == 0 {
		res.Mean, res.Median, res.StdDev = math.NaN(), math.NaN(), math.NaN()
		return res
	}
	xs := toFloat64(remaining)
	res.Mean, res.StdDev = stat.PopMeanStdDev(xs, nil)
	res.Median = float64(qsort.QSelectMedianFloat32(remaining))
	return res
}

// Returns centre and scale of the values per the selected estimators. tmp is scratch space
func centerAndScale(xs []float32, tmp []float32, opts ClipOptions) (center, scale float64) {
	switch opts.Center {
	case CenterMean:
		center = stat.Mean(toFloat64(xs), nil)
	default:
		buf := tmp[:len(xs)]
		copy(buf, xs)
		center = float64(qsort.QSelectMedianFloat32(buf))
	}

	switch opts.Scale {
	case ScaleStdDev:
		_, scale = stat.PopMeanStdDev(toFloat64(xs), nil)
	default:
		buf := tmp[:len(xs)]
		for i, x := range xs {
			buf[i] = float32(math.Abs(float64(x) - center))
		}
		scale = float64(qsort.QSelectMedianFloat32(buf)) * madToSigma
	}
	return center, scale
}

func toFloat64(xs []float32) []float64 {
	fs := make([]float64, len(xs))
	for i, x := range xs {
		fs[i] = float64(x)
	}
	return fs
}
