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
	"bytes"
	"compress/gzip"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nmiles2718/computesky/internal/fits/fitstest"
)

func testHDUs() []fitstest.HDU {
	return []fitstest.HDU{
		fitstest.Primary(
			fitstest.Card{Name: "TARGNAME", Value: "NGC104"},
			fitstest.Card{Name: "EXPTIME", Value: 339.0},
			fitstest.Card{Name: "CCDGAIN", Value: 2},
			fitstest.Card{Name: "SUBARRAY", Value: false},
		),
		fitstest.SCI(1, 3, 2, []float32{1, 2, 3, 4, 5, 6}, fitstest.Card{Name: "BUNIT", Value: "ELECTRONS"}),
		fitstest.DQ(1, 3, 2, []int16{0, 0, 4, 0, 0, 0}),
		fitstest.SCI(2, 3, 2, []float32{10, 20, 30, 40, 50, 60}),
	}
}

func TestReadPrimaryHeader(t *testing.T) {
	f, err := Read(bytes.NewReader(fitstest.Build(t, testHDUs()...)), "test.fits")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer f.Close()

	if s, ok := f.Primary.String("targname"); !ok || s != "NGC104" {
		t.Errorf("TARGNAME=%q,%v; want NGC104", s, ok)
	}
	if v, ok := f.Primary.Float("EXPTIME"); !ok || v != 339 {
		t.Errorf("EXPTIME=%v,%v; want 339", v, ok)
	}
	if v, ok := f.Primary.Float("CCDGAIN"); !ok || v != 2 {
		t.Errorf("CCDGAIN as float=%v,%v; want 2", v, ok)
	}
	if v, ok := f.Primary.Value("SUBARRAY"); !ok || v != false {
		t.Errorf("SUBARRAY=%v,%v; want false", v, ok)
	}
	if f.Primary.Has("BUNIT") {
		t.Errorf("primary header unexpectedly has BUNIT")
	}
}

func TestExtensions(t *testing.T) {
	f, err := Read(bytes.NewReader(fitstest.Build(t, testHDUs()...)), "test.fits")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer f.Close()

	want := []ExtID{{"SCI", 1}, {"DQ", 1}, {"SCI", 2}}
	got := f.Extensions()
	if len(got) != len(want) {
		t.Fatalf("got %d extensions %v; want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ext[%d]=%v; want %v", i, got[i], want[i])
		}
	}
}

func TestLookup(t *testing.T) {
	f, err := Read(bytes.NewReader(fitstest.Build(t, testHDUs()...)), "test.fits")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer f.Close()

	sci, ok, err := f.Lookup("sci", 2)
	if err != nil || !ok {
		t.Fatalf("Lookup(sci,2)=%v,%v", ok, err)
	}
	if sci.DimensionsToString() != "3x2" {
		t.Errorf("dims=%s; want 3x2", sci.DimensionsToString())
	}
	if sci.Pixels != 6 || sci.Data[5] != 60 {
		t.Errorf("pixels=%d data=%v", sci.Pixels, sci.Data)
	}

	dq, ok, err := f.Lookup("DQ", 1)
	if err != nil || !ok {
		t.Fatalf("Lookup(DQ,1)=%v,%v", ok, err)
	}
	if dq.Bitpix != 16 || dq.Data[2] != 4 {
		t.Errorf("bitpix=%d data=%v", dq.Bitpix, dq.Data)
	}
	sci1, _, _ := f.Lookup("SCI", 1)
	if !sci1.SameShape(dq) {
		t.Errorf("SCI,1 and DQ,1 shapes differ: %s vs %s", sci1.DimensionsToString(), dq.DimensionsToString())
	}
	if u, _ := sci1.Header.String("BUNIT"); u != "ELECTRONS" {
		t.Errorf("BUNIT=%q; want ELECTRONS", u)
	}

	missing, ok, err := f.Lookup("DQ", 2)
	if missing != nil || ok || err != nil {
		t.Errorf("Lookup(DQ,2)=%v,%v,%v; want nil,false,nil", missing, ok, err)
	}
}

func TestOpenGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(fitstest.Build(t, testHDUs()...))
	gz.Close()

	p := filepath.Join(t.TempDir(), "test.fits.gz")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if _, ok, _ := f.Lookup("SCI", 1); !ok {
		t.Errorf("SCI,1 not found in gzipped file")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.fits")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestReadGarbage(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("this is not a FITS file")), "garbage"); err == nil {
		t.Errorf("expected error for garbage input")
	}
}

func TestDecodePixels(t *testing.T) {
	raw := []byte{0x80, 0x00, 0x7f, 0xff} // int16 -32768, 32767
	data, err := decodePixels(raw, 16, 2, 32768, 1)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != 0 || data[1] != 65535 {
		t.Errorf("data=%v; want [0 65535]", data)
	}

	f32 := math.Float32bits(-1.5)
	raw = []byte{byte(f32 >> 24), byte(f32 >> 16), byte(f32 >> 8), byte(f32)}
	data, err = decodePixels(raw, -32, 1, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != -3 {
		t.Errorf("data=%v; want [-3]", data)
	}

	if _, err := decodePixels(raw, -32, 2, 0, 1); err == nil {
		t.Errorf("expected truncation error")
	}
	if _, err := decodePixels(raw, 12, 1, 0, 1); err == nil {
		t.Errorf("expected error for BITPIX 12")
	}
}

func TestDecodedSize(t *testing.T) {
	f, err := Read(bytes.NewReader(fitstest.Build(t, testHDUs()...)), "test.fits")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer f.Close()

	if n := f.DecodedSize("SCI"); n != 2*6*4 {
		t.Errorf("SCI size=%d; want 48", n)
	}
	if n := f.DecodedSize("sci", "DQ"); n != 3*6*4 {
		t.Errorf("SCI+DQ size=%d; want 72", n)
	}
	if n := f.DecodedSize("ERR"); n != 0 {
		t.Errorf("ERR size=%d; want 0", n)
	}
}

func TestLookupImplicitVersionAndScaling(t *testing.T) {
	hdus := []fitstest.HDU{
		fitstest.Primary(),
		{
			Naxisn: []int{3, 2},
			Data:   []float32{1, 2, 3, 100, 2, 3},
			Cards:  []fitstest.Card{{Name: "EXTNAME", Value: "SCI"}},
		},
		fitstest.DQ(2, 3, 2, []int16{0, 0, 0, 4, 0, 0}, fitstest.Card{Name: "BZERO", Value: 10.0}),
	}
	f, err := Read(bytes.NewReader(fitstest.Build(t, hdus...)), "test.fits")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer f.Close()

	sci, ok, err := f.Lookup("SCI", 1)
	if err != nil || !ok {
		t.Fatalf("Lookup(SCI,1) without EXTVER=%v,%v", ok, err)
	}
	if sci.Version != 1 || sci.Data[3] != 100 {
		t.Errorf("version=%d data=%v", sci.Version, sci.Data)
	}

	dq, ok, err := f.Lookup("DQ", 2)
	if err != nil || !ok {
		t.Fatalf("Lookup(DQ,2)=%v,%v", ok, err)
	}
	want := []float32{10, 10, 10, 14, 10, 10}
	for i := range want {
		if dq.Data[i] != want[i] {
			t.Errorf("dq[%d]=%v; want %v", i, dq.Data[i], want[i])
		}
	}
	if dq.Bzero != 0 || dq.Bscale != 1 {
		t.Errorf("bzero=%v bscale=%v; want scaling folded into data", dq.Bzero, dq.Bscale)
	}
}
