// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Snapshot returns the current value of every metric as Prometheus metric
// families, sorted by name. Metrics with fields get one sample per allowed
// combination of field values.
func (r *Registry) Snapshot() []*dto.MetricFamily {
	r.mu.Lock()
	metrics := make([]customUint64Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		metrics = append(metrics, m)
	}
	r.mu.Unlock()
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	families := make([]*dto.MetricFamily, 0, len(metrics))
	for _, m := range metrics {
		typ := dto.MetricType_GAUGE
		if m.cumulative {
			typ = dto.MetricType_COUNTER
		}
		mf := &dto.MetricFamily{
			Name: proto.String(m.name),
			Type: typ.Enum(),
		}
		if m.description != "" {
			mf.Help = proto.String(m.description)
		}
		for key := 0; key < m.fields.numKeys(); key++ {
			values := m.fields.keyToMultiField(key)
			v := float64(m.value(values...))
			sample := &dto.Metric{}
			for i, val := range values {
				sample.Label = append(sample.Label, &dto.LabelPair{
					Name:  proto.String(m.fields.fields[i].name),
					Value: proto.String(val),
				})
			}
			if m.cumulative {
				sample.Counter = &dto.Counter{Value: proto.Float64(v)}
			} else {
				sample.Gauge = &dto.Gauge{Value: proto.Float64(v)}
			}
			mf.Metric = append(mf.Metric, sample)
		}
		families = append(families, mf)
	}
	return families
}

// WriteText writes every metric to w in the Prometheus text exposition
// format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Snapshot() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ParseText parses metrics in the Prometheus text exposition format, as
// written by WriteText.
func ParseText(in io.Reader) (map[string]*dto.MetricFamily, error) {
	return (&expfmt.TextParser{}).TextToMetricFamilies(in)
}
