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

package fits

import (
	"fmt"
	"strings"
)

// A decoded image HDU of a FITS file.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	FileName string // Original file name, for log output
	Name     string // EXTNAME of the HDU, PRIMARY for the primary HDU
	Version  int    // EXTVER of the HDU, 1 if absent

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. Already applied to Data, kept for reference
	Bscale float32 // Value scaler. Already applied to Data, kept for reference
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data, physical values
}

// Creates an image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if len(naxisn) == 0 {
		numPixels = 0
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		Header:  NewHeader(),
		Version: 1,
		Bitpix:  -32,
		Bzero:   0,
		Bscale:  1,
		Naxisn:  append([]int32(nil), naxisn...), // clone slice
		Pixels:  numPixels,
		Data:    data,
	}
}

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Returns the extension identifier in the usual (NAME,VER) notation
func (f *Image) ExtID() string {
	return fmt.Sprintf("(%s,%d)", f.Name, f.Version)
}

// SameShape tells whether both images have identical axis dimensions
func (f *Image) SameShape(g *Image) bool {
	return EqualInt32Slice(f.Naxisn, g.Naxisn)
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
