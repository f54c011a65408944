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

	"github.com/google/subcommands"
	"gvisor.dev/sun4c/sun4csim/cmd/util"
	"gvisor.dev/sun4c/sun4csim/config"
	"gvisor.dev/sun4c/sun4csim/workload"
)

// Geometry implements subcommands.Command for the "geometry" command.
type Geometry struct{}

// Name implements subcommands.Command.Name.
func (*Geometry) Name() string {
	return "geometry"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Geometry) Synopsis() string {
	return "boot a simulated machine and print its MMU layout"
}

// Usage implements subcommands.Command.Usage.
func (*Geometry) Usage() string {
	return "geometry [flags] - boots the configured machine and prints the resulting MMU layout.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Geometry) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Geometry) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	e, err := newEngine(conf)
	if err != nil {
		return util.Errorf("booting machine: %v", err)
	}
	printGeometry(&util.Writer{}, e)
	return subcommands.ExitSuccess
}

func printGeometry(w io.Writer, e *workload.Engine) {
	m := e.Manager()
	g := m.Geometry()
	fmt.Fprintf(w, "contexts:     %d\n", g.NumContexts)
	fmt.Fprintf(w, "segmaps:      %d (%d pages, %dK each)\n", g.NumSegmaps, g.Segment.Pages(), g.Segment.Size()>>10)
	fmt.Fprintf(w, "vac:          %v\n", m.VAC())
	fmt.Fprintf(w, "kernel base:  %v\n", m.KernelBase())
	fmt.Fprint(w, m.Stats())
}
