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
	"strings"

	"github.com/astrogo/fitsio"
)

// FITS header data, split by value type. Keys are upper case.
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Comments []string
	History  []string
	Keys     []string // keys in file order
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int64),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		Keys:     make([]string, 0),
	}
}

// Converts the cards of a parsed fitsio header into typed maps
func newHeaderFromFitsio(hdr *fitsio.Header) Header {
	h := NewHeader()
	for _, key := range hdr.Keys() {
		card := hdr.Get(key)
		if card == nil {
			continue
		}
		h.set(strings.ToUpper(strings.TrimSpace(card.Name)), card.Value)
	}
	return h
}

func (h *Header) set(key string, value interface{}) {
	switch key {
	case "":
		return
	case "COMMENT":
		if s, ok := value.(string); ok {
			h.Comments = append(h.Comments, s)
		}
		return
	case "HISTORY":
		if s, ok := value.(string); ok {
			h.History = append(h.History, s)
		}
		return
	}

	switch v := value.(type) {
	case bool:
		h.Bools[key] = v
	case int:
		h.Ints[key] = int64(v)
	case int8:
		h.Ints[key] = int64(v)
	case int16:
		h.Ints[key] = int64(v)
	case int32:
		h.Ints[key] = int64(v)
	case int64:
		h.Ints[key] = v
	case uint8:
		h.Ints[key] = int64(v)
	case uint16:
		h.Ints[key] = int64(v)
	case uint32:
		h.Ints[key] = int64(v)
	case float32:
		h.Floats[key] = float64(v)
	case float64:
		h.Floats[key] = v
	case string:
		h.Strings[key] = strings.TrimRight(v, " ")
	default:
		return // complex values and undefined keys are not needed downstream
	}
	h.Keys = append(h.Keys, key)
}

// Has tells whether the header defines a value for the key
func (h *Header) Has(key string) bool {
	_, ok := h.Value(key)
	return ok
}

// Value returns the typed value for the key: bool, int64, float64 or string
func (h *Header) Value(key string) (interface{}, bool) {
	key = strings.ToUpper(key)
	if v, ok := h.Strings[key]; ok {
		return v, true
	}
	if v, ok := h.Floats[key]; ok {
		return v, true
	}
	if v, ok := h.Ints[key]; ok {
		return v, true
	}
	if v, ok := h.Bools[key]; ok {
		return v, true
	}
	return nil, false
}

// String returns the string value for the key
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Strings[strings.ToUpper(key)]
	return v, ok
}

// Float returns the numeric value for the key, accepting integers as well
func (h *Header) Float(key string) (float64, bool) {
	key = strings.ToUpper(key)
	if v, ok := h.Floats[key]; ok {
		return v, true
	}
	if v, ok := h.Ints[key]; ok {
		return float64(v), true
	}
	return 0, false
}

// Int returns the integer value for the key
func (h *Header) Int(key string) (int64, bool) {
	v, ok := h.Ints[strings.ToUpper(key)]
	return v, ok
}
