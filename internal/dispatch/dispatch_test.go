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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmiles2718/computesky/internal/config"
	"github.com/nmiles2718/computesky/internal/invoke"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadCatalog(t *testing.T) {
	in := "  hst/public/j8xi/j8xi01abq/j8xi01abq_flt.fits  \n\n" +
		"# comment\n" +
		"s3://stpubdata/hst/public/j8xi/j8xi01acq/j8xi01acq_flt.fits\r\n" +
		"\t\n"
	keys, err := ReadCatalog(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hst/public/j8xi/j8xi01abq/j8xi01abq_flt.fits",
		"hst/public/j8xi/j8xi01acq/j8xi01acq_flt.fits",
	}, keys)

	var buf bytes.Buffer
	require.NoError(t, WriteCatalog(&buf, keys))
	again, err := ReadCatalog(&buf)
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	_, err = ReadCatalogFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

// Records invocations and tracks the peak number running at once
type recordingInvoker struct {
	mu      sync.Mutex
	got     []invoke.Payload
	running atomic.Int32
	peak    atomic.Int32
	fail    map[string]bool
	delay   time.Duration
}

func (r *recordingInvoker) Invoke(ctx context.Context, p invoke.Payload) error {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		old := r.peak.Load()
		if n <= old || r.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	r.got = append(r.got, p)
	r.mu.Unlock()
	if r.fail[p.FitsKey] {
		return errors.New("throttled")
	}
	return nil
}

func keys(n int) []string {
	ks := make([]string, n)
	for i := range ks {
		ks[i] = "hst/public/j8xi/j8xi01a" + string(rune('a'+i)) + "q_flt.fits"
	}
	return ks
}

func TestDispatch(t *testing.T) {
	inv := &recordingInvoker{delay: 5 * time.Millisecond, fail: map[string]bool{keys(10)[3]: true}}
	d := New(inv, Options{Workers: 2, InputBucket: "stpubdata", OutputBucket: "out"}, quietLogger())

	sum := d.Dispatch(context.Background(), keys(10))
	assert.Equal(t, 9, sum.Submitted)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Skipped)
	assert.NotEmpty(t, sum.RunID)
	assert.LessOrEqual(t, inv.peak.Load(), int32(2))
	require.Len(t, inv.got, 10, "failures are not retried")
	for _, p := range inv.got {
		assert.Equal(t, "stpubdata", p.FitsBucket)
		assert.Equal(t, "out", p.OutputBucket)
	}
}

func TestDispatchEmpty(t *testing.T) {
	d := New(&recordingInvoker{}, Options{Workers: 0, InputBucket: "in", OutputBucket: "out"}, quietLogger())
	sum := d.Dispatch(context.Background(), nil)
	assert.Equal(t, Summary{RunID: sum.RunID, Duration: sum.Duration}, sum)
}

func TestDispatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := &recordingInvoker{}
	d := New(inv, Options{Workers: 2, InputBucket: "in", OutputBucket: "out"}, quietLogger())
	sum := d.Dispatch(ctx, keys(5))
	assert.Equal(t, 5, sum.Skipped)
	assert.Empty(t, inv.got)
}

func TestDispatchTimeout(t *testing.T) {
	var sawDeadline atomic.Bool
	inv := invoke.InvokerFunc(func(ctx context.Context, p invoke.Payload) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		return nil
	})
	d := New(inv, Options{Workers: 1, InputBucket: "in", OutputBucket: "out", Timeout: time.Second}, quietLogger())
	sum := d.Dispatch(context.Background(), keys(1))
	assert.Equal(t, 1, sum.Submitted)
	assert.True(t, sawDeadline.Load())
}

func TestDispatchInvalidPayload(t *testing.T) {
	d := New(&recordingInvoker{}, Options{Workers: 1, InputBucket: "in"}, quietLogger())
	sum := d.Dispatch(context.Background(), keys(2))
	assert.Equal(t, 2, sum.Failed)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.Defaults().Dispatch)
	assert.Equal(t, Options{Workers: 2, InputBucket: "stpubdata", OutputBucket: "compute-sky-lambda", Timeout: 30 * time.Second}, opts)
}

func TestMetrics(t *testing.T) {
	sum := Summary{Submitted: 9, Failed: 1, Skipped: 2, Duration: 1500 * time.Millisecond}
	path := filepath.Join(t.TempDir(), "computesky.prom")
	require.NoError(t, WriteMetrics(path, sum))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	require.NoError(t, err)

	assert.Equal(t, 9.0, families["computesky_dispatch_submitted_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, families["computesky_dispatch_failed_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, families["computesky_dispatch_skipped_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.5, families["computesky_dispatch_duration_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Greater(t, families["computesky_dispatch_last_run_timestamp_seconds"].GetMetric()[0].GetGauge().GetValue(), 0.0)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	found := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, quietLogger(), func(fileName string, keys []string) {
			found <- keys
		})
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("ignored.fits\n"), 0o644))
	tmp := filepath.Join(t.TempDir(), "batch1.txt")
	require.NoError(t, os.WriteFile(tmp, []byte("a_flt.fits\ns3://stpubdata/b_flt.fits\n"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "batch1.txt")))

	select {
	case keys := <-found:
		assert.Equal(t, []string{"a_flt.fits", "b_flt.fits"}, keys)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog not picked up")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchChunkedWrite(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	found := make(chan []string, 4)
	go Watch(ctx, dir, quietLogger(), func(fileName string, keys []string) {
		found <- keys
	})
	time.Sleep(100 * time.Millisecond)

	f, err := os.Create(filepath.Join(dir, "batch2.txt"))
	require.NoError(t, err)
	_, err = f.WriteString("a_flt.fits\n")
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	time.Sleep(settleDelay / 5)
	_, err = f.WriteString("b_flt.fits\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case keys := <-found:
		assert.Equal(t, []string{"a_flt.fits", "b_flt.fits"}, keys)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog not picked up")
	}
	select {
	case keys := <-found:
		t.Errorf("catalog dispatched twice, second time with %v", keys)
	case <-time.After(3 * settleDelay):
	}
}
