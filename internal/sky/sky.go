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

// Package sky estimates the background sky level of a two-chip exposure and
// publishes the result table.
package sky

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pbnjay/memory"

	"github.com/nmiles2718/computesky/internal/chips"
	"github.com/nmiles2718/computesky/internal/config"
	"github.com/nmiles2718/computesky/internal/invoke"
	"github.com/nmiles2718/computesky/internal/record"
	"github.com/nmiles2718/computesky/internal/stats"
	"github.com/nmiles2718/computesky/internal/storage"
)

// Extension kinds read from each exposure
var kinds = []string{"SCI", "DQ"}

// Pipeline options
type Options struct {
	Clip          stats.ClipOptions
	Combine       stats.CombineMode
	RequesterPays bool   // Bill input transfers to the requester
	TempDir       string // Parent of the per-invocation temporary directories

	// Largest number of bytes the decoded images may occupy, 0 for no limit
	MemoryLimit uint64
}

// OptionsFromConfig derives pipeline options from the configuration. The memory
// limit is the configured fraction of physical memory.
func OptionsFromConfig(c config.PipelineConfig) (Options, error) {
	clip, err := c.ClipOptions()
	if err != nil {
		return Options{}, err
	}
	mode, err := c.CombineMode()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Clip:          clip,
		Combine:       mode,
		RequesterPays: c.RequesterPays,
		TempDir:       c.TempDir,
		MemoryLimit:   uint64(float64(memory.TotalMemory()) * c.MemoryFraction),
	}, nil
}

// Estimate of one chip
type ChipResult struct {
	Slot    chips.Slot
	Present bool           // Science data was found, so the chip contributes
	Stats   *stats.Clipped // Nil if not present
}

// Outcome of one estimate
type Result struct {
	Record   *record.Record
	Chips    [2]ChipResult
	Input    storage.Object
	Output   storage.Object
	Duration time.Duration
}

// Runs background estimates. Safe for sequential use; each call uses its own temporary directory
type Pipeline struct {
	store  storage.Store
	opts   Options
	logger *slog.Logger
}

func New(store storage.Store, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, opts: opts, logger: logger}
}

// Process downloads the exposure named by the payload, estimates its background and
// uploads the result table. Temporary files are removed on every exit path.
func (p *Pipeline) Process(ctx context.Context, payload invoke.Payload) (*Result, error) {
	start := time.Now()
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	input, output := payload.Input(p.opts.RequesterPays), payload.Output()
	logger := p.logger.With("input", input.String())

	tmp, err := os.MkdirTemp(p.opts.TempDir, "computesky-")
	if err != nil {
		return nil, fmt.Errorf("creating temporary directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, path.Base(input.Key))
	n, err := p.store.Download(ctx, input, local)
	if err != nil {
		return nil, err
	}
	logger.Debug("downloaded", "bytes", n, "path", local)

	res, err := p.Estimate(local)
	if err != nil {
		return nil, err
	}
	res.Input, res.Output = input, output

	table := filepath.Join(tmp, path.Base(output.Key))
	if err := record.WriteFile(table, res.Record); err != nil {
		return nil, err
	}
	if err := p.store.Upload(ctx, output, table); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	logger.Info("published", "output", output.String(),
		res.Record.Background.FieldName(), record.FormatValue(res.Record.Background.Value),
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// Estimate computes the background record of a local FITS file
func (p *Pipeline) Estimate(fileName string) (*Result, error) {
	logger := p.logger.With("file", filepath.Base(fileName))
	ex, err := chips.Open(fileName, logger)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	if need := uint64(ex.DecodedSize(kinds...)); p.opts.MemoryLimit > 0 && need > p.opts.MemoryLimit {
		return nil, fmt.Errorf("%s: decoded images need %d MiB, limit is %d MiB",
			fileName, need/1024/1024, p.opts.MemoryLimit/1024/1024)
	}
	for _, kind := range kinds {
		if err := ex.Extract(kind); err != nil {
			return nil, err
		}
	}

	metadata, err := ex.Metadata()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	values, present := make([]float64, 2), make([]bool, 2)
	for i, c := range ex.Chips() {
		clipped, ok, err := stats.ChipBackground(c.SCI, c.DQ, p.opts.Clip)
		if err != nil {
			return nil, err
		}
		res.Chips[i] = ChipResult{Slot: c.Slot, Present: ok, Stats: clipped}
		if !ok {
			logger.Info("chip absent", "chip", c.Slot.String())
			continue
		}
		values[i], present[i] = clipped.Mean, true
		logger.Debug("chip background", "chip", c.Slot.String(), "masked", c.DQ != nil, "stats", clipped.String())
		if math.IsNaN(clipped.Mean) {
			logger.Warn("no good pixels", "chip", c.Slot.String())
		}
	}

	bkg := stats.Combine(values, present, p.opts.Combine)
	if !present[0] && !present[1] {
		logger.Warn("no science data in either chip")
	}
	res.Record = &record.Record{
		Metadata:   metadata,
		Background: record.Background{Unit: ex.Unit(), Value: bkg},
	}
	return res, nil
}
