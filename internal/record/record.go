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

// Package record holds the one-row result table of a background estimate and
// reads and writes it in the basic whitespace-separated ASCII table layout.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Prefix of the background column name. The unit follows it
const BackgroundPrefix = "bkg_"

// A named metadata value. Value is one of string, int64, float64 or bool
type Field struct {
	Name  string
	Value interface{}
}

// The combined background estimate and its unit
type Background struct {
	Unit  string
	Value float64
}

// FieldName returns the column name the background is written under
func (b Background) FieldName() string {
	return BackgroundPrefix + b.Unit
}

// The result of one estimate: ordered metadata, then the background
type Record struct {
	Metadata   []Field
	Background Background
}

// Columns returns metadata and background in output order
func (r *Record) Columns() []Field {
	cols := make([]Field, 0, len(r.Metadata)+1)
	cols = append(cols, r.Metadata...)
	return append(cols, Field{Name: r.Background.FieldName(), Value: r.Background.Value})
}

// Get returns the metadata value with the given name
func (r *Record) Get(name string) (interface{}, bool) {
	for _, f := range r.Metadata {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (r *Record) String() string {
	b := strings.Builder{}
	for i, c := range r.Columns() {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", c.Name, FormatValue(c.Value))
	}
	return b.String()
}

// FormatValue renders a value as it appears in a table cell, before quoting.
// Floats use the shortest decimal that parses back to the same value, with a
// trailing ".0" when integral, and nan, inf or -inf when not finite.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(v float64, bitSize int) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, bitSize)
	}
	s := strconv.FormatFloat(v, 'f', -1, bitSize)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseValue converts a table cell back to int64, float64 or bool where it parses
// as one, else leaves it a string
func ParseValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "True":
		return true
	case "False":
		return false
	}
	return s
}
