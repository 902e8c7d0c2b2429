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

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestTextLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)
	l.Info("extension missing", "ext", "(DQ,1)")
	l.Warn("ambiguous filter combination", "filter", "CLEAR")

	out := buf.String()
	assert.NotContains(t, out, "extension missing")
	assert.Contains(t, out, "ambiguous filter combination")
	assert.Contains(t, out, "filter=CLEAR")
	assert.NotContains(t, out, "\x1b[", "no color codes when not writing to a terminal")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Format: "json", Writer: &buf})
	require.NoError(t, err)
	l.With("file", "j8xi01abq_flt.fits").Info("background", "value", 2.2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "background", rec["msg"])
	assert.Equal(t, "j8xi01abq_flt.fits", rec["file"])
	assert.Equal(t, 2.2, rec["value"])
}

func TestAlsoToFile(t *testing.T) {
	var buf bytes.Buffer
	fileName := filepath.Join(t.TempDir(), "computesky.log")
	l, err := New(Options{Level: "debug", Writer: &buf, File: fileName})
	require.NoError(t, err)

	l.WithGroup("dispatch").Debug("submitted", "key", "a.fits")
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(fileName)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dispatch.key=a.fits")
	assert.Contains(t, buf.String(), "dispatch.key=a.fits")
	assert.Equal(t, 1, strings.Count(string(data), "submitted"))
}

func TestBadFile(t *testing.T) {
	_, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	assert.NoError(t, l.Sync())
	assert.NoError(t, l.Close())
}
