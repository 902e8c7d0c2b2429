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

	"github.com/nmiles2718/computesky/internal/fits"
)

// Masked returns the science values whose data quality flag is zero
func Masked(sci, dq []float32) ([]float32, error) {
	if len(sci) != len(dq) {
		return nil, fmt.Errorf("data quality has %d pixels, science has %d", len(dq), len(sci))
	}
	good := make([]float32, 0, len(sci))
	for i, q := range dq {
		if q == 0 {
			good = append(good, sci[i])
		}
	}
	return good, nil
}

// ChipBackground estimates the background of one chip as the sigma-clipped mean of its
// science pixels, restricted to good pixels if a data quality image is given.
// Returns false if the science image is absent, in which case the chip does not contribute.
func ChipBackground(sci, dq *fits.Image, opts ClipOptions) (*Clipped, bool, error) {
	if sci == nil {
		return nil, false, nil
	}
	data := sci.Data
	if dq != nil {
		if !sci.SameShape(dq) {
			return nil, true, fmt.Errorf("%s: data quality %s is %s, science %s is %s",
				sci.FileName, dq.ExtID(), dq.DimensionsToString(), sci.ExtID(), sci.DimensionsToString())
		}
		var err error
		if data, err = Masked(sci.Data, dq.Data); err != nil {
			return nil, true, err
		}
	}
	return SigmaClip(data, opts), true, nil
}

// How per-chip estimates are combined into one value
type CombineMode int

const (
	CombineByCount   CombineMode = iota // divide the sum by the number of contributing chips
	CombineFixedPair                    // divide the sum by two regardless of how many chips contributed
)

// ParseCombineMode parses "count" or "pair"
func ParseCombineMode(s string) (CombineMode, error) {
	switch strings.ToLower(s) {
	case "", "count":
		return CombineByCount, nil
	case "pair":
		return CombineFixedPair, nil
	}
	return CombineByCount, fmt.Errorf("unknown combine mode %q", s)
}

func (m CombineMode) String() string {
	if m == CombineFixedPair {
		return "pair"
	}
	return "count"
}

// Combine averages the estimates of the contributing chips. A NaN estimate of a
// contributing chip propagates. With no contributing chip, the result is NaN.
func Combine(values []float64, present []bool, mode CombineMode) float64 {
	sum, n := 0.0, 0
	for i, v := range values {
		if i < len(present) && present[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	if mode == CombineFixedPair {
		return sum / 2
	}
	return sum / float64(n)
}
