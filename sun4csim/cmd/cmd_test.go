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

package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sun4c/pkg/metric"
	"gvisor.dev/sun4c/sun4csim/config"
	"gvisor.dev/sun4c/sun4csim/workload"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(flagSet)
	conf, err := config.NewFromFlags(flagSet)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	if err := conf.Override("check-invariants", "true"); err != nil {
		t.Fatalf("Override: %v", err)
	}
	return conf
}

func TestStringFlags(t *testing.T) {
	var s stringFlags
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	f.Var(&s, "vary", "")
	if err := f.Parse([]string{"--vary=a=1", "--vary=b=2,3"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(stringFlags{"a=1", "b=2,3"}, s); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	if err := s.Set(""); err == nil {
		t.Errorf("Set(\"\") succeeded")
	}
}

func TestVariants(t *testing.T) {
	base := defaultConfig(t)
	vs, err := variants(base, []string{"segmaps=128,256", "vac-hwflush=false,true"})
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	var labels []string
	for _, v := range vs {
		labels = append(labels, v.label)
	}
	want := []string{
		"segmaps=128 vac-hwflush=false",
		"segmaps=128 vac-hwflush=true",
		"segmaps=256 vac-hwflush=false",
		"segmaps=256 vac-hwflush=true",
	}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if got := vs[3].conf; got.Segmaps != 256 || !got.VACHWFlush {
		t.Errorf("last variant has segmaps=%d hwflush=%t, want 256 true", got.Segmaps, got.VACHWFlush)
	}
	if base.Segmaps != 128 || base.VACHWFlush {
		t.Errorf("base config modified: segmaps=%d hwflush=%t", base.Segmaps, base.VACHWFlush)
	}

	vs, err = variants(base, nil)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if len(vs) != 1 || vs[0].label != "base" {
		t.Errorf("variants(nil) = %+v, want only base", vs)
	}
}

func TestVariantsErrors(t *testing.T) {
	base := defaultConfig(t)
	for _, vary := range []string{
		"segmaps",
		"=128",
		"segmaps=",
		"no-such-flag=1",
		"config=foo.toml",
		"segmaps=100",
		"contexts=eight",
	} {
		if _, err := variants(base, []string{vary}); err == nil {
			t.Errorf("variants(%q) succeeded", vary)
		}
	}
}

func TestWorkloadFlagsLoad(t *testing.T) {
	conf := defaultConfig(t)
	for _, tc := range []struct {
		name    string
		args    []string
		wantErr bool
		steps   int
	}{
		{name: "none", wantErr: true},
		{name: "random", args: []string{"--random=50", "--seed=3"}, steps: 50},
		{name: "both", args: []string{"--random=50", "workload.yaml"}, wantErr: true},
		{name: "missing file", args: []string{filepath.Join(t.TempDir(), "missing.yaml")}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var wl workloadFlags
			f := flag.NewFlagSet("test", flag.ContinueOnError)
			wl.setFlags(f)
			if err := f.Parse(tc.args); err != nil {
				t.Fatalf("Parse: %v", err)
			}
			w, err := wl.load(f, conf)
			if tc.wantErr {
				if err == nil {
					t.Errorf("load succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(w.Steps) != tc.steps {
				t.Errorf("got %d steps, want %d", len(w.Steps), tc.steps)
			}
		})
	}
}

func TestWorkloadFlagsLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.yaml")
	data := []byte(`
name: file
spaces: [a]
steps:
  - op: touch
    space: a
    start: 0x100000
    length: 0x4000
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	var wl workloadFlags
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	wl.setFlags(f)
	if err := f.Parse([]string{path}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	w, err := wl.load(f, defaultConfig(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if w.Name != "file" || len(w.Steps) != 1 {
		t.Errorf("load = %+v, want workload \"file\" with one step", w)
	}
}

func TestRunSweep(t *testing.T) {
	base := defaultConfig(t)
	vs, err := variants(base, []string{"vac-hwflush=false,true"})
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	g, mc := base.ManagerConfig()
	w := workload.Random(7, 4, 400, workload.RandomOptionsFor(g, mc))
	results, err := runSweep(context.Background(), w, vs, 2)
	if err != nil {
		t.Fatalf("runSweep: %v", err)
	}
	if len(results) != len(vs) {
		t.Fatalf("got %d results, want %d", len(results), len(vs))
	}
	for i, res := range results {
		if res.Steps == 0 || res.Steps != results[0].Steps {
			t.Errorf("variant %s ran %d steps, want %d", vs[i].label, res.Steps, results[0].Steps)
		}
		if res.Counters.StaleHits != 0 {
			t.Errorf("variant %s: %d stale hits", vs[i].label, res.Counters.StaleHits)
		}
	}
	if results[0].Counters.ChunkFlushes != 0 {
		t.Errorf("software flushes issued %d chunk flushes", results[0].Counters.ChunkFlushes)
	}

	var out bytes.Buffer
	if err := printSweep(&out, vs, results); err != nil {
		t.Fatalf("printSweep: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("printSweep wrote %d lines, want 3:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "VARIANT") || !strings.HasPrefix(lines[2], "vac-hwflush=true") {
		t.Errorf("unexpected table:\n%s", out.String())
	}
}

func TestRunSweepCancelled(t *testing.T) {
	base := defaultConfig(t)
	vs, err := variants(base, nil)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	g, mc := base.ManagerConfig()
	w := workload.Random(1, 2, 100, workload.RandomOptionsFor(g, mc))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runSweep(ctx, w, vs, 1); err == nil {
		t.Errorf("runSweep succeeded with a cancelled context")
	}
}

func TestWriteMetrics(t *testing.T) {
	conf := defaultConfig(t)
	e, err := newEngine(conf)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	g, mc := conf.ManagerConfig()
	res, err := e.Run(context.Background(), workload.Random(2, 3, 200, workload.RandomOptionsFor(g, mc)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	path := filepath.Join(t.TempDir(), "metrics.txt")
	if err := writeMetrics(path, e); err != nil {
		t.Fatalf("writeMetrics: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	families, err := metric.ParseText(f)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	fills, ok := families["sun4c_segment_fills"]
	if !ok {
		t.Fatalf("sun4c_segment_fills missing from %v", families)
	}
	if got, want := uint64(fills.GetMetric()[0].GetCounter().GetValue()), res.Stats.Events.SegmentFills; got != want {
		t.Errorf("sun4c_segment_fills = %d, want %d", got, want)
	}
	if _, ok := families["sun4c_segments"]; !ok {
		t.Errorf("sun4c_segments missing")
	}

	var out bytes.Buffer
	summarize(&out, &res)
	if !strings.Contains(out.String(), res.Name) {
		t.Errorf("summary does not name the workload:\n%s", out.String())
	}
}

func TestGeometry(t *testing.T) {
	e, err := newEngine(defaultConfig(t))
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	var out bytes.Buffer
	printGeometry(&out, e)
	for _, want := range []string{"contexts:     8", "segmaps:      128 (64 pages, 256K each)", "64K 16-byte lines, sw flushes"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// closeWriter is an io.WriteCloser whose Close fails with closeErr.
type closeWriter struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (c *closeWriter) Close() error {
	c.closed = true
	return c.closeErr
}

func TestWriteAndClose(t *testing.T) {
	errClose := errors.New("close failed")
	errWrite := errors.New("write failed")
	for _, tc := range []struct {
		name     string
		writeErr error
		closeErr error
		want     error
	}{
		{name: "ok"},
		{name: "close fails", closeErr: errClose, want: errClose},
		{name: "write fails", writeErr: errWrite, want: errWrite},
		{name: "both fail", writeErr: errWrite, closeErr: errClose, want: errWrite},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := &closeWriter{closeErr: tc.closeErr}
			err := writeAndClose(f, func(w io.Writer) error {
				io.WriteString(w, "data")
				return tc.writeErr
			})
			if !errors.Is(err, tc.want) || (tc.want == nil && err != nil) {
				t.Errorf("writeAndClose = %v, want %v", err, tc.want)
			}
			if !f.closed {
				t.Errorf("file not closed")
			}
			if got := f.String(); got != "data" {
				t.Errorf("wrote %q, want %q", got, "data")
			}
		})
	}
}
