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
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/sun4c/pkg/log"
	"gvisor.dev/sun4c/sun4csim/cmd/util"
	"gvisor.dev/sun4c/sun4csim/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	wl      workloadFlags
	metrics string
	stats   bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "replay a workload against a simulated sun4c MMU"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <workload.yaml> - replays a workload file.
run [flags] --random=<steps> - replays a random workload.

Sending SIGUSR1 prints the MMU statistics to stderr while the workload runs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	r.wl.setFlags(f)
	f.StringVar(&r.metrics, "metrics", "", "write Prometheus metrics to this file when done; - writes them to stdout.")
	f.BoolVar(&r.stats, "stats", false, "print MMU statistics when done.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	w, err := r.wl.load(f, conf)
	if err != nil {
		return util.Errorf("loading workload: %v", err)
	}
	e, err := newEngine(conf)
	if err != nil {
		util.Fatalf("booting machine: %v", err)
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	dump := make(chan os.Signal, 1)
	signal.Notify(dump, unix.SIGUSR1)
	defer signal.Stop(dump)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-dump:
				// Stats takes the manager's lock, so it is safe to
				// call while the workload runs.
				fmt.Fprint(os.Stderr, e.Manager().Stats())
			case <-done:
				return
			}
		}
	}()

	log.Infof("Running workload %q: %d spaces, %d steps", w.Name, len(w.Spaces), len(w.Steps))
	res, err := e.Run(ctx, w)
	if err != nil {
		return util.Errorf("workload %q: %v", w.Name, err)
	}
	summarize(os.Stdout, &res)
	if r.stats {
		fmt.Print(res.Stats)
	}
	if r.metrics != "" {
		if err := writeMetrics(r.metrics, e); err != nil {
			return util.Errorf("writing metrics: %v", err)
		}
		if r.metrics != "-" {
			util.Infof("Metrics written to %s", r.metrics)
		}
	}
	return subcommands.ExitSuccess
}
