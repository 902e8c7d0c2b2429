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
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/astrogo/fitsio"
)

// A multi-extension FITS file. The primary header is parsed once on open,
// image extensions are decoded on demand.
type File struct {
	FileName string
	Primary  Header

	fits *fitsio.File
	os   *os.File
	hdus []fitsio.HDU
}

// Open a FITS file with the given name. Decompresses gzip if .gz or .gzip suffix is present.
func Open(fileName string) (*File, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}

	var r io.Reader = f
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		// Decompress gzip if .gz or .gzip suffix is present
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", fileName, err)
		}
		r = gz
	}

	file, err := Read(r, fileName)
	if err != nil {
		f.Close()
		return nil, err
	}
	file.os = f
	return file, nil
}

// Read a FITS file from the given reader. The file name is for log output only.
func Read(r io.Reader, fileName string) (*File, error) {
	ff, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%s: not a readable FITS file: %w", fileName, err)
	}
	hdus := ff.HDUs()
	if len(hdus) == 0 {
		ff.Close()
		return nil, fmt.Errorf("%s: FITS file has no HDUs", fileName)
	}
	return &File{
		FileName: fileName,
		Primary:  newHeaderFromFitsio(hdus[0].Header()),
		fits:     ff,
		hdus:     hdus,
	}, nil
}

// Close releases the parsed HDUs and the underlying file, if any
func (f *File) Close() error {
	err := f.fits.Close()
	if f.os != nil {
		if cerr := f.os.Close(); err == nil {
			err = cerr
		}
		f.os = nil
	}
	return err
}

// Name and version of one extension
type ExtID struct {
	Name    string
	Version int
}

// Extensions lists name and version of all extension HDUs, in file order
func (f *File) Extensions() []ExtID {
	ids := make([]ExtID, 0, len(f.hdus))
	for _, hdu := range f.hdus[1:] {
		name, ver := extNameVersion(hdu.Header())
		ids = append(ids, ExtID{Name: name, Version: ver})
	}
	return ids
}

// Lookup finds the image extension with the given name and version, and decodes it.
// Name comparison ignores case. A missing extension returns nil, false, nil.
// An extension that is present but cannot be decoded returns an error.
func (f *File) Lookup(name string, version int) (*Image, bool, error) {
	for _, hdu := range f.hdus[1:] {
		n, v := extNameVersion(hdu.Header())
		if !strings.EqualFold(n, name) || v != version {
			continue
		}
		img, err := decodeImage(hdu, f.FileName, n, v)
		if err != nil {
			return nil, true, err
		}
		return img, true, nil
	}
	return nil, false, nil
}

// DecodedSize returns the number of bytes the named image extensions occupy once
// decoded to float32, without decoding them
func (f *File) DecodedSize(names ...string) int64 {
	total := int64(0)
	for _, hdu := range f.hdus[1:] {
		n, _ := extNameVersion(hdu.Header())
		for _, name := range names {
			if !strings.EqualFold(n, name) {
				continue
			}
			axes := hdu.Header().Axes()
			pixels := int64(0)
			if len(axes) > 0 {
				pixels = 1
			}
			for _, a := range axes {
				pixels *= int64(a)
			}
			total += pixels * 4
			break
		}
	}
	return total
}

// extNameVersion returns EXTNAME and EXTVER of the header. EXTVER defaults to 1 as per the standard
func extNameVersion(hdr *fitsio.Header) (string, int) {
	name, version := "", 1
	if card := hdr.Get("EXTNAME"); card != nil {
		if s, ok := card.Value.(string); ok {
			name = strings.TrimSpace(s)
		}
	}
	if card := hdr.Get("EXTVER"); card != nil {
		switch v := card.Value.(type) {
		case int:
			version = v
		case int64:
			version = int(v)
		case int32:
			version = int(v)
		case float64:
			version = int(v)
		}
	}
	return name, version
}

func decodeImage(hdu fitsio.HDU, fileName, name string, version int) (*Image, error) {
	fimg, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: extension (%s,%d) is not an image", fileName, name, version)
	}
	hdr := hdu.Header()
	axes := hdr.Axes()
	naxisn := make([]int32, len(axes))
	for i, a := range axes {
		naxisn[i] = int32(a)
	}

	img := NewImageFromNaxisn(naxisn, []float32{})
	img.FileName, img.Name, img.Version = fileName, name, version
	img.Header = newHeaderFromFitsio(hdr)
	img.Bitpix = int32(hdr.Bitpix())
	if v, ok := img.Header.Float("BZERO"); ok {
		img.Bzero = float32(v)
	}
	if v, ok := img.Header.Float("BSCALE"); ok {
		img.Bscale = float32(v)
	}

	data, err := decodePixels(fimg.Raw(), img.Bitpix, int(img.Pixels), img.Bzero, img.Bscale)
	if err != nil {
		return nil, fmt.Errorf("%s: extension %s: %w", fileName, img.ExtID(), err)
	}
	img.Data = data
	img.Bzero, img.Bscale = 0, 1 // reflect that data values incorporate these now
	return img, nil
}

// Convert raw big-endian pixel data of the given BITPIX to float32, applying bzero and bscale
func decodePixels(raw []byte, bitpix int32, pixels int, bzero, bscale float32) ([]float32, error) {
	bytesPerValue := int(bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return nil, fmt.Errorf("unknown BITPIX value %d", bitpix)
	}
	if len(raw) < pixels*bytesPerValue {
		return nil, fmt.Errorf("truncated data: have %d bytes, need %d", len(raw), pixels*bytesPerValue)
	}

	data := make([]float32, pixels)
	for i := range data {
		b := raw[i*bytesPerValue : (i+1)*bytesPerValue]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			v = float64(int64(binary.BigEndian.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		}
		data[i] = float32(v)*bscale + bzero
	}
	return data, nil
}
