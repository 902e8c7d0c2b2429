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

// Package dispatch submits one background estimate per exposure to a remote
// executor, with bounded concurrency and without waiting for the estimates.
package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadCatalog reads exposure keys, one per line. Blank lines, surrounding whitespace
// and lines starting with # are ignored. s3://bucket/ prefixes are stripped.
func ReadCatalog(r io.Reader) ([]string, error) {
	var keys []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, StripBucket(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return keys, nil
}

// ReadCatalogFile reads exposure keys from the named file
func ReadCatalogFile(fileName string) ([]string, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	keys, err := ReadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return keys, nil
}

// WriteCatalog writes exposure keys, one per line
func WriteCatalog(w io.Writer, keys []string) error {
	bw := bufio.NewWriter(w)
	for _, k := range keys {
		if _, err := fmt.Fprintln(bw, k); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// StripBucket removes an s3://bucket/ prefix from the key, if present
func StripBucket(key string) string {
	rest, ok := strings.CutPrefix(key, "s3://")
	if !ok {
		return key
	}
	_, k, _ := strings.Cut(rest, "/")
	return k
}
