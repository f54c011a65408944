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

	"github.com/google/subcommands"
	"gvisor.dev/sun4c/sun4csim/cmd/util"
	"gvisor.dev/sun4c/sun4csim/config"
	"gvisor.dev/sun4c/sun4csim/workload"
)

// Generate implements subcommands.Command for the "generate" command.
type Generate struct {
	seed   int64
	steps  int
	spaces int
}

// Name implements subcommands.Command.Name.
func (*Generate) Name() string {
	return "generate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Generate) Synopsis() string {
	return "print a random workload as YAML"
}

// Usage implements subcommands.Command.Usage.
func (*Generate) Usage() string {
	return `generate [flags] - prints a random workload sized for the configured machine.
The output can be edited and replayed with "run".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (g *Generate) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&g.seed, "seed", 1, "seed of the random workload.")
	f.IntVar(&g.steps, "steps", 1000, "number of steps.")
	f.IntVar(&g.spaces, "spaces", 4, "number of address spaces.")
}

// Execute implements subcommands.Command.Execute.
func (g *Generate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || g.steps <= 0 || g.spaces <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	geo, mc := conf.ManagerConfig()
	w := workload.Random(g.seed, g.spaces, g.steps, workload.RandomOptionsFor(geo, mc))
	data, err := w.Marshal()
	if err != nil {
		return util.Errorf("marshalling workload: %v", err)
	}
	if _, err := (&util.Writer{}).Write(data); err != nil {
		return util.Errorf("writing workload: %v", err)
	}
	return subcommands.ExitSuccess
}
