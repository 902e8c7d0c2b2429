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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Prefix of all exported metric names
const metricPrefix = "computesky_dispatch_"

// MetricFamilies returns the counters of a dispatch run in Prometheus form
func MetricFamilies(sum Summary, now time.Time) []*dto.MetricFamily {
	counter := func(name, help string, v int) *dto.MetricFamily {
		return &dto.MetricFamily{
			Name:   proto.String(metricPrefix + name),
			Help:   proto.String(help),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(float64(v))}}},
		}
	}
	gauge := func(name, help string, v float64) *dto.MetricFamily {
		return &dto.MetricFamily{
			Name:   proto.String(metricPrefix + name),
			Help:   proto.String(help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
		}
	}
	return []*dto.MetricFamily{
		counter("submitted_total", "Invocations accepted by the executor in the last run.", sum.Submitted),
		counter("failed_total", "Invocations rejected or not delivered in the last run.", sum.Failed),
		counter("skipped_total", "Keys not submitted because the last run was cancelled.", sum.Skipped),
		gauge("duration_seconds", "Wall time of the last run.", sum.Duration.Seconds()),
		gauge("last_run_timestamp_seconds", "Completion time of the last run.", float64(now.UnixNano())/1e9),
	}
}

// WriteMetricsTo writes the counters of a dispatch run in the Prometheus text format
func WriteMetricsTo(w io.Writer, sum Summary, now time.Time) error {
	for _, mf := range MetricFamilies(sum, now) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteMetrics replaces the textfile at path with the counters of a dispatch run.
// The file is renamed into place so collectors never see a partial file.
func WriteMetrics(path string, sum Summary) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".computesky-metrics-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := WriteMetricsTo(bw, sum, time.Now()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metrics: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
