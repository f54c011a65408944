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

// Package cmd holds implementations of the sun4csim commands.
package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gvisor.dev/sun4c/pkg/metric"
	"gvisor.dev/sun4c/sun4csim/config"
	"gvisor.dev/sun4c/sun4csim/workload"
)

// stringFlags can be used with string flags that appear multiple times.
type stringFlags []string

// String implements flag.Value.
func (s *stringFlags) String() string {
	return strings.Join(*s, " ")
}

// Get implements flag.Getter.
func (s *stringFlags) Get() any {
	return s
}

// Set implements flag.Value.
func (s *stringFlags) Set(v string) error {
	if v == "" {
		return fmt.Errorf("empty flag value")
	}
	*s = append(*s, v)
	return nil
}

// workloadFlags select the workload a command runs: the file named by the
// first argument, or a random one.
type workloadFlags struct {
	seed   int64
	steps  int
	spaces int
}

func (w *workloadFlags) setFlags(f *flag.FlagSet) {
	f.Int64Var(&w.seed, "seed", 1, "seed of the random workload.")
	f.IntVar(&w.steps, "random", 0, "run a random workload of this many steps instead of a workload file.")
	f.IntVar(&w.spaces, "spaces", 4, "number of address spaces in the random workload.")
}

// load returns the workload selected by the flags and arguments.
func (w *workloadFlags) load(f *flag.FlagSet, conf *config.Config) (*workload.Workload, error) {
	switch {
	case f.NArg() > 0 && w.steps > 0:
		return nil, fmt.Errorf("a workload file and --random are mutually exclusive")
	case f.NArg() > 0:
		return workload.Load(f.Arg(0))
	case w.steps > 0:
		g, mc := conf.ManagerConfig()
		return workload.Random(w.seed, w.spaces, w.steps, workload.RandomOptionsFor(g, mc)), nil
	default:
		return nil, fmt.Errorf("no workload: pass a workload file or --random")
	}
}

// newEngine boots a simulated machine configured by conf.
func newEngine(conf *config.Config) (*workload.Engine, error) {
	g, mc := conf.ManagerConfig()
	return workload.NewEngine(g, mc, workload.Options{CheckInvariants: conf.CheckInvariants})
}

// writeMetrics writes e's metrics in the Prometheus text format to path, or
// to stdout if path is "-".
func writeMetrics(path string, e *workload.Engine) error {
	r := metric.NewRegistry()
	if err := workload.RegisterMetrics(r, e); err != nil {
		return err
	}
	if path == "-" {
		return r.WriteText(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeAndClose(f, r.WriteText)
}

// writeAndClose calls write on f then closes it. A failed close is reported
// unless write already failed.
func writeAndClose(f io.WriteCloser, write func(io.Writer) error) error {
	err := write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// flushStores returns the number of flush stores issued in res.
func flushStores(res *workload.Result) uint64 {
	return res.Counters.LineFlushes + res.Counters.ChunkFlushes
}

// summarize writes a one-paragraph summary of res.
func summarize(w io.Writer, res *workload.Result) {
	ev := &res.Stats.Events
	fmt.Fprintf(w, "workload %q: %d steps, %d user faults, %d kernel faults\n", res.Name, res.Steps, res.UserFaults, res.KernelFaults)
	fmt.Fprintf(w, "  fills: %d segment, %d page, %d kernel; preloaded %d\n", ev.SegmentFills, ev.PageFills, ev.KernelFills, ev.Preloads)
	fmt.Fprintf(w, "  steals: %d user, %d kernel, %d context; %d reclaims\n", ev.UserSteals, ev.KernelSteals, ev.ContextSteals, ev.KernelReclaims)
	fmt.Fprintf(w, "  vac: %d flush stores, %d lines invalidated, %d hits, %d stale\n", flushStores(res), res.Counters.LinesInvalidated, res.Counters.Hits, res.Counters.StaleHits)
}
