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

// Package chips extracts the per-chip science and data quality arrays of a
// two-chip exposure, and the image metadata from its primary header.
package chips

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nmiles2718/computesky/internal/fits"
)

// Detector chip slot. Chip1 is the upper chip, stored as EXTVER 2
type Slot int

const (
	Chip1 Slot = iota
	Chip2
)

func (s Slot) String() string {
	return fmt.Sprintf("chip%d", int(s)+1)
}

// Extension version to chip slot. The order of the versions is crossed relative to the chip numbers
var slotTable = []struct {
	Version int
	Slot    Slot
}{
	{1, Chip2},
	{2, Chip1},
}

// Extension kinds that can be extracted per chip
var kinds = map[string]bool{"SCI": true, "ERR": true, "DQ": true}

// The images of one chip. A nil image means the extension is absent from the file
type Chip struct {
	Slot Slot
	SCI  *fits.Image
	ERR  *fits.Image
	DQ   *fits.Image
}

// Image returns the image of the given kind, nil if absent
func (c *Chip) Image(kind string) *fits.Image {
	switch strings.ToUpper(kind) {
	case "SCI":
		return c.SCI
	case "ERR":
		return c.ERR
	case "DQ":
		return c.DQ
	}
	return nil
}

func (c *Chip) set(kind string, img *fits.Image) {
	switch kind {
	case "SCI":
		c.SCI = img
	case "ERR":
		c.ERR = img
	case "DQ":
		c.DQ = img
	}
}

// Extracts chip images from one open FITS file
type Extractor struct {
	file   *fits.File
	chips  [2]*Chip
	logger *slog.Logger
}

// Open reads the FITS file with the given name and caches its primary header
func Open(fileName string, logger *slog.Logger) (*Extractor, error) {
	f, err := fits.Open(fileName)
	if err != nil {
		return nil, err
	}
	return New(f, logger), nil
}

// New creates an extractor on an already opened file. The extractor takes ownership of the file
func New(f *fits.File, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		file:   f,
		chips:  [2]*Chip{{Slot: Chip1}, {Slot: Chip2}},
		logger: logger.With("file", f.FileName),
	}
}

// Close releases the underlying file
func (e *Extractor) Close() error {
	return e.file.Close()
}

// FileName returns the name of the underlying file
func (e *Extractor) FileName() string {
	return e.file.FileName
}

// PrimaryHeader returns the header of the primary HDU
func (e *Extractor) PrimaryHeader() *fits.Header {
	return &e.file.Primary
}

// DecodedSize returns the bytes the given extension kinds will occupy once extracted
func (e *Extractor) DecodedSize(kinds ...string) int64 {
	return e.file.DecodedSize(kinds...)
}

// Extract decodes both versions of the named extension kind into their chip slots.
// A missing extension is logged and leaves the slot empty. Can be called once per kind,
// results accumulate in the same chips.
func (e *Extractor) Extract(kind string) error {
	kind = strings.ToUpper(kind)
	if !kinds[kind] {
		return fmt.Errorf("%s: unsupported extension kind %q", e.file.FileName, kind)
	}
	for _, entry := range slotTable {
		img, ok, err := e.file.Lookup(kind, entry.Version)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Info("extension missing", "ext", fmt.Sprintf("(%s,%d)", kind, entry.Version), "chip", entry.Slot.String())
			continue
		}
		chip := e.chips[entry.Slot]
		chip.set(kind, img)
		if err := checkShapes(chip); err != nil {
			return fmt.Errorf("%s: %w", e.file.FileName, err)
		}
	}
	return nil
}

// All images of a chip must share the science image's shape
func checkShapes(c *Chip) error {
	var ref *fits.Image
	for _, img := range []*fits.Image{c.SCI, c.ERR, c.DQ} {
		if img == nil {
			continue
		}
		if ref == nil {
			ref = img
			continue
		}
		if !ref.SameShape(img) {
			return fmt.Errorf("%s: %s is %s but %s is %s", c.Slot,
				ref.ExtID(), ref.DimensionsToString(), img.ExtID(), img.DimensionsToString())
		}
	}
	return nil
}

// Chips returns both chips, chip1 first
func (e *Extractor) Chips() [2]*Chip {
	return e.chips
}

func (e *Extractor) Chip1() *Chip { return e.chips[Chip1] }

func (e *Extractor) Chip2() *Chip { return e.chips[Chip2] }

// Unit returns the BUNIT of the chip1 science header, else of chip2, else "unknown"
func (e *Extractor) Unit() string {
	for _, c := range e.chips {
		if c.SCI == nil {
			continue
		}
		if u, ok := c.SCI.Header.String("BUNIT"); ok && strings.TrimSpace(u) != "" {
			return strings.TrimSpace(u)
		}
	}
	return "unknown"
}
