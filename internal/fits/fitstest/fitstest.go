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

// Package fitstest writes small multi-extension FITS files for tests.
package fitstest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
)

// A header card
type Card = fitsio.Card

// One HDU. Data is []float32 (BITPIX -32), []int16 (BITPIX 16) or nil
type HDU struct {
	Naxisn []int
	Data   interface{}
	Cards  []Card
}

// Primary returns a data-less primary HDU with the given cards
func Primary(cards ...Card) HDU {
	return HDU{Cards: cards}
}

// SCI returns a float32 science extension of the given version
func SCI(version int, width, height int, data []float32, extra ...Card) HDU {
	cards := append([]Card{{Name: "EXTNAME", Value: "SCI"}, {Name: "EXTVER", Value: version}}, extra...)
	return HDU{Naxisn: []int{width, height}, Data: data, Cards: cards}
}

// DQ returns an int16 data quality extension of the given version
func DQ(version int, width, height int, data []int16, extra ...Card) HDU {
	cards := append([]Card{{Name: "EXTNAME", Value: "DQ"}, {Name: "EXTVER", Value: version}}, extra...)
	return HDU{Naxisn: []int{width, height}, Data: data, Cards: cards}
}

// Build serializes the HDUs to FITS. The first HDU is the primary one
func Build(t testing.TB, hdus ...HDU) []byte {
	t.Helper()
	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	if err != nil {
		t.Fatalf("creating FITS: %v", err)
	}
	for i, hdu := range hdus {
		if err := write(f, hdu); err != nil {
			t.Fatalf("writing HDU %d: %v", i, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing FITS: %v", err)
	}
	return buf.Bytes()
}

// WriteFile builds the HDUs into a file in a temporary test directory and returns its path
func WriteFile(t testing.TB, name string, hdus ...HDU) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, Build(t, hdus...), 0o644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

func bitpix(hdu HDU) int {
	switch hdu.Data.(type) {
	case []int16:
		return 16
	case []float32:
		return -32
	}
	return 8
}

func write(f *fitsio.File, hdu HDU) error {
	img := fitsio.NewImage(bitpix(hdu), hdu.Naxisn)
	defer img.Close()
	if err := img.Header().Append(hdu.Cards...); err != nil {
		return err
	}
	if hdu.Data != nil {
		if err := img.Write(hdu.Data); err != nil {
			return err
		}
	}
	return f.Write(img)
}
