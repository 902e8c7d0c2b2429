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

package record

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Write emits the record as a header line of column names and one data line,
// each space separated. Cells that are empty, start with # or contain whitespace
// or quotes are double quoted, with embedded quotes doubled. String values that
// would parse back as another type are quoted as well.
func Write(w io.Writer, rec *Record) error {
	cols := rec.Columns()
	names := make([]string, len(cols))
	values := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quote(c.Name, false)
		s := FormatValue(c.Value)
		_, isString := c.Value.(string)
		_, parsesAsString := ParseValue(s).(string)
		values[i] = quote(s, isString && !parsesAsString)
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%s\n", strings.Join(names, " "), strings.Join(values, " ")); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteFile writes the record table to the named file
func WriteFile(fileName string, rec *Record) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := Write(f, rec); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	return f.Close()
}

func quote(s string, force bool) string {
	if !force && s != "" && s[0] != '#' && !strings.ContainsAny(s, " \t\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// A table cell, and whether it was quoted in the input
type cell struct {
	text   string
	quoted bool
}

// Reads all rows. Quoted cells are marked, as encoding/csv drops the quotes
func readCells(r io.Reader) ([][]cell, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	lines := bytes.Split(data, []byte("\n"))
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = ' '
	cr.Comment = '#'

	var rows [][]cell
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make([]cell, len(fields))
		for i, f := range fields {
			line, col := cr.FieldPos(i)
			quoted := line <= len(lines) && col <= len(lines[line-1]) && lines[line-1][col-1] == '"'
			row[i] = cell{text: f, quoted: quoted}
		}
		rows = append(rows, row)
	}
}

// Read parses a table written by Write. Lines starting with # are skipped.
// The column whose name starts with bkg_ becomes the background, all others
// are metadata in column order. Quoted values stay strings.
func Read(r io.Reader) (*Record, error) {
	rows, err := readCells(r)
	if err != nil {
		return nil, fmt.Errorf("parsing table: %w", err)
	}
	if len(rows) != 2 {
		return nil, fmt.Errorf("expected a header and one data line, got %d lines", len(rows))
	}
	names, values := make([]string, len(rows[0])), make([]string, len(rows[1]))
	for i, c := range rows[0] {
		names[i] = c.text
	}
	for i, c := range rows[1] {
		values[i] = c.text
	}

	rec := &Record{Metadata: make([]Field, 0, len(names))}
	found := false
	for i, name := range names {
		if strings.HasPrefix(name, BackgroundPrefix) && !found {
			v, ok := ParseValue(values[i]).(float64)
			if !ok {
				if iv, isInt := ParseValue(values[i]).(int64); isInt {
					v, ok = float64(iv), true
				}
			}
			if !ok {
				return nil, fmt.Errorf("background column %s has non-numeric value %q", name, values[i])
			}
			rec.Background = Background{Unit: strings.TrimPrefix(name, BackgroundPrefix), Value: v}
			found = true
			continue
		}
		var v interface{} = values[i]
		if !rows[1][i].quoted {
			v = ParseValue(values[i])
		}
		rec.Metadata = append(rec.Metadata, Field{Name: name, Value: v})
	}
	if !found {
		return nil, errors.New("no " + BackgroundPrefix + " column")
	}
	return rec, nil
}

// ReadFile reads a record table from the named file
func ReadFile(fileName string) (*Record, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return rec, nil
}
