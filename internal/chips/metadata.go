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

package chips

import (
	"fmt"
	"strings"

	"github.com/nmiles2718/computesky/internal/fits"
	"github.com/nmiles2718/computesky/internal/record"
)

// Primary header keywords copied verbatim into the result, in output order.
// The filter is resolved from the filter wheel keywords.
var metadataKeys = []string{"targname", "exptime", "filter", "expstart", "aperture"}

// Metadata returns the ordered image metadata from the primary header.
// A missing keyword is an error.
func (e *Extractor) Metadata() ([]record.Field, error) {
	hdr := e.PrimaryHeader()
	fields := make([]record.Field, 0, len(metadataKeys))
	for _, key := range metadataKeys {
		if key == "filter" {
			filter, err := e.filter(hdr)
			if err != nil {
				return nil, err
			}
			fields = append(fields, record.Field{Name: key, Value: filter})
			continue
		}
		v, ok := hdr.Value(key)
		if !ok {
			return nil, fmt.Errorf("%s: primary header lacks %s", e.file.FileName, strings.ToUpper(key))
		}
		fields = append(fields, record.Field{Name: key, Value: v})
	}
	return fields, nil
}

// Effective filter from both filter wheels, or the single FILTER keyword
func (e *Extractor) filter(hdr *fits.Header) (string, error) {
	f1, ok1 := hdr.String("FILTER1")
	f2, ok2 := hdr.String("FILTER2")
	if ok1 && ok2 {
		filter, ok := ResolveEffectiveFilter(f1, f2)
		if !ok {
			e.logger.Warn("ambiguous filter combination", "filter1", f1, "filter2", f2, "filter", filter)
		}
		return filter, nil
	}
	if f, ok := hdr.String("FILTER"); ok {
		return strings.TrimSpace(f), nil
	}
	if ok1 {
		return "", fmt.Errorf("%s: primary header lacks FILTER2", e.file.FileName)
	}
	return "", fmt.Errorf("%s: primary header lacks FILTER1", e.file.FileName)
}

// ResolveEffectiveFilter picks the filter in the beam from two filter wheel slots.
// If exactly one slot holds a clear position, the other slot's filter is returned.
// If both are clear, returns "CLEAR". If neither is, returns both joined with ";".
// The flag is false in the latter two cases.
func ResolveEffectiveFilter(slotA, slotB string) (string, bool) {
	a, b := strings.TrimSpace(slotA), strings.TrimSpace(slotB)
	clearA, clearB := isClear(a), isClear(b)
	switch {
	case clearA && !clearB:
		return b, true
	case clearB && !clearA:
		return a, true
	case clearA && clearB:
		return "CLEAR", false
	}
	return a + ";" + b, false
}

func isClear(s string) bool {
	return strings.Contains(strings.ToLower(s), "clear")
}
