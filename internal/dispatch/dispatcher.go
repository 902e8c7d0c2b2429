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

package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nmiles2718/computesky/internal/config"
	"github.com/nmiles2718/computesky/internal/invoke"
)

// Dispatcher options
type Options struct {
	Workers      int           // Concurrent invocations
	InputBucket  string        // Bucket holding the exposures
	OutputBucket string        // Bucket receiving the result tables
	Timeout      time.Duration // Per invocation, 0 for none
}

// OptionsFromConfig derives dispatcher options from the configuration
func OptionsFromConfig(c config.DispatchConfig) Options {
	return Options{Workers: c.Workers, InputBucket: c.InputBucket, OutputBucket: c.OutputBucket, Timeout: c.Timeout}
}

// Outcome of one dispatch run
type Summary struct {
	RunID     string
	Submitted int // Invocations accepted by the executor
	Failed    int // Invocations rejected or not delivered
	Skipped   int // Keys not submitted because the run was cancelled
	Duration  time.Duration
}

// Submits invocations with bounded concurrency
type Dispatcher struct {
	invoker invoke.Invoker
	opts    Options
	logger  *slog.Logger
}

func New(invoker invoke.Invoker, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{invoker: invoker, opts: opts, logger: logger}
}

// Dispatch submits one invocation per key, at most Workers at a time. Failed
// invocations are logged and counted, never retried. Returns once all submissions
// have completed, not the estimates themselves.
func (d *Dispatcher) Dispatch(ctx context.Context, keys []string) Summary {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	logger := d.logger.With("run_id", sum.RunID)
	logger.Info("dispatching", "keys", len(keys), "workers", d.opts.Workers)

	var submitted, failed atomic.Int64
	limiter := make(chan bool, d.opts.Workers)
	for i, key := range keys {
		if !acquire(ctx, limiter) {
			sum.Skipped = len(keys) - i
			break
		}
		go func(key string) {
			defer func() { <-limiter }()
			if err := d.invoke(ctx, key); err != nil {
				failed.Add(1)
				logger.Error("invocation failed", "key", key, "err", err)
				return
			}
			submitted.Add(1)
			logger.Debug("submitted", "key", key)
		}(key)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}

	sum.Submitted, sum.Failed = int(submitted.Load()), int(failed.Load())
	sum.Duration = time.Since(start)
	logger.Info("dispatched", "submitted", sum.Submitted, "failed", sum.Failed, "skipped", sum.Skipped,
		"duration", sum.Duration.Round(time.Millisecond))
	return sum
}

// Takes a worker slot, unless the context is cancelled first
func acquire(ctx context.Context, limiter chan bool) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case limiter <- true:
		return true
	}
}

func (d *Dispatcher) invoke(ctx context.Context, key string) error {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	p := invoke.Payload{FitsKey: key, FitsBucket: d.opts.InputBucket, OutputBucket: d.opts.OutputBucket}
	if err := p.Validate(); err != nil {
		return err
	}
	return d.invoker.Invoke(ctx, p)
}
