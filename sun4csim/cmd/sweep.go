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
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/sun4c/pkg/log"
	"gvisor.dev/sun4c/sun4csim/cmd/util"
	"gvisor.dev/sun4c/sun4csim/config"
	"gvisor.dev/sun4c/sun4csim/workload"
)

// Sweep implements subcommands.Command for the "sweep" command.
type Sweep struct {
	wl       workloadFlags
	vary     stringFlags
	parallel int
}

// Name implements subcommands.Command.Name.
func (*Sweep) Name() string {
	return "sweep"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sweep) Synopsis() string {
	return "replay one workload on several machine configurations"
}

// Usage implements subcommands.Command.Usage.
func (*Sweep) Usage() string {
	return `sweep --vary=<flag>=<v1>,<v2>... [flags] <workload.yaml> - replays the
workload once for every combination of the varied flags, each on its own
simulated machine, and prints a comparison table.

Example: sweep --vary=segmaps=128,256 --vary=vac-hwflush=false,true --random=5000
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sweep) SetFlags(f *flag.FlagSet) {
	s.wl.setFlags(f)
	f.Var(&s.vary, "vary", "flag=value,value,... to vary; may be repeated.")
	f.IntVar(&s.parallel, "parallel", 4, "number of machines to simulate at once.")
}

// variant is one configuration of a sweep.
type variant struct {
	label string
	conf  *config.Config
}

// variants returns every combination of the values in vary, applied to
// clones of base.
func variants(base *config.Config, vary []string) ([]variant, error) {
	vs := []variant{{label: "base", conf: base.Clone()}}
	for i, arg := range vary {
		name, values, ok := strings.Cut(arg, "=")
		if !ok || name == "" || values == "" {
			return nil, fmt.Errorf("invalid --vary %q, want flag=value,value", arg)
		}
		var next []variant
		for _, v := range vs {
			for _, value := range strings.Split(values, ",") {
				conf := v.conf.Clone()
				if err := conf.Override(name, value); err != nil {
					return nil, err
				}
				label := fmt.Sprintf("%s=%s", name, value)
				if i > 0 {
					label = v.label + " " + label
				}
				next = append(next, variant{label: label, conf: conf})
			}
		}
		vs = next
	}
	return vs, nil
}

// runSweep runs w on every variant, at most parallel at a time. Results are
// in variant order.
func runSweep(ctx context.Context, w *workload.Workload, vs []variant, parallel int) ([]workload.Result, error) {
	results := make([]workload.Result, len(vs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, v := range vs {
		g.Go(func() error {
			e, err := newEngine(v.conf)
			if err != nil {
				return fmt.Errorf("%s: %w", v.label, err)
			}
			res, err := e.Run(ctx, w)
			if err != nil {
				return fmt.Errorf("%s: %w", v.label, err)
			}
			log.Debugf("Variant %s done: %d user faults", v.label, res.UserFaults)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// printSweep writes a comparison table of results.
func printSweep(out io.Writer, vs []variant, results []workload.Result) error {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprint(tw, "VARIANT\tSEGFILLS\tPAGEFILLS\tUSTEALS\tKSTEALS\tCTXSTEALS\tFLUSHSTORES\tSTALE\n")
	for i, res := range results {
		ev := &res.Stats.Events
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			vs[i].label, ev.SegmentFills, ev.PageFills, ev.UserSteals, ev.KernelSteals, ev.ContextSteals, flushStores(&res), res.Counters.StaleHits)
	}
	return tw.Flush()
}

// Execute implements subcommands.Command.Execute.
func (s *Sweep) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	w, err := s.wl.load(f, conf)
	if err != nil {
		return util.Errorf("loading workload: %v", err)
	}
	vs, err := variants(conf, s.vary)
	if err != nil {
		return util.Errorf("%v", err)
	}
	log.Infof("Sweeping workload %q over %d variants", w.Name, len(vs))
	results, err := runSweep(ctx, w, vs, s.parallel)
	if err != nil {
		return util.Errorf("sweep: %v", err)
	}
	if err := printSweep(os.Stdout, vs, results); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
