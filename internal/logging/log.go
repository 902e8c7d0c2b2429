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

// Package logging builds the structured process logger. Writes to the terminal,
// and optionally also to a file.
package logging

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Logger options
type Options struct {
	Level  string    `yaml:"level"`  // debug, info, warn or error
	Format string    `yaml:"format"` // text or json
	File   string    `yaml:"file"`   // Optional additional file to log into
	Writer io.Writer `yaml:"-"`      // Terminal output, defaults to stderr
}

// A process logger with an optional log file
type Logger struct {
	*slog.Logger

	file   *bufio.Writer
	fileOS *os.File
}

// New creates a logger per the given options. The log file, if any, is truncated
func New(opts Options) (*Logger, error) {
	level := ParseLevel(opts.Level)
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	l := &Logger{}
	handler := newHandler(w, opts.Format, level, !isTerminal(w))

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
		if err != nil {
			return nil, err
		}
		l.fileOS, l.file = f, bufio.NewWriter(f)
		handler = teeHandler{handler, newHandler(l.file, opts.Format, level, true)}
	}
	l.Logger = slog.New(handler)
	return l, nil
}

// Discard returns a logger that drops all records
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newHandler(w io.Writer, format string, level slog.Level, noColor bool) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sync flushes the log file to disk
func (l *Logger) Sync() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Flush(); err != nil {
		return err
	}
	return l.fileOS.Sync()
}

// Close flushes and closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Flush(), l.fileOS.Close())
	l.file, l.fileOS = nil, nil
	return err
}

// Fatal logs the error, closes the log file and exits with status 1
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	l.Close()
	os.Exit(1)
}

// Passes records to several handlers
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	res := make(teeHandler, len(t))
	for i, h := range t {
		res[i] = h.WithAttrs(attrs)
	}
	return res
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	res := make(teeHandler, len(t))
	for i, h := range t {
		res[i] = h.WithGroup(name)
	}
	return res
}
