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

package workload

import (
	"fmt"
	"math/rand"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/sun4c"
)

// userBase is the lowest address random workloads touch.
const userBase = 0x100000

// RandomOptions shape a random workload.
type RandomOptions struct {
	// Segment is the machine's segment layout.
	Segment hostarch.SegmentLayout

	// KernelBase is the manager's kernel base.
	KernelBase hostarch.Addr

	// KernelWindow is the first kernel address random kernel touches use.
	// It should lie above the boot-locked segments.
	KernelWindow hostarch.Addr

	// UserSegments is the number of segments each space touches.
	UserSegments int

	// KernelSegments is the number of kernel segments touched.
	KernelSegments int

	// LockSegments is the number of segments lock steps use. They follow
	// the kernel segments.
	LockSegments int
}

// RandomOptionsFor returns options for a manager booted with cfg on a
// machine of geometry g. The windows are sized to overcommit the PMEG pool.
func RandomOptionsFor(g mmuhw.Geometry, cfg sun4c.Config) RandomOptions {
	seg := g.Segment.Size()
	o := RandomOptions{
		Segment:        g.Segment,
		KernelBase:     cfg.KernelBase,
		KernelWindow:   cfg.KernelBase + hostarch.Addr(uint32(cfg.LockedSegments)*seg),
		UserSegments:   g.NumSegmaps/2 + 1,
		KernelSegments: cfg.KernelRingSeed*2 + 2,
		LockSegments:   4,
	}
	// Keep every window inside its half of the address space.
	if room := int((uint32(cfg.KernelBase) - userBase) / seg); o.UserSegments > room-4 {
		o.UserSegments = max(room-4, 1)
	}
	room := int((uint64(1<<32) - uint64(o.KernelWindow)) / uint64(seg))
	if o.KernelSegments+o.LockSegments > room {
		o.LockSegments = min(o.LockSegments, room/2)
		o.KernelSegments = max(room-o.LockSegments, 0)
	}
	return o
}

// Random returns a reproducible random workload of steps steps over spaces
// address spaces.
func Random(seed int64, spaces, steps int, o RandomOptions) *Workload {
	rng := rand.New(rand.NewSource(seed))
	w := &Workload{Name: fmt.Sprintf("random-%d", seed)}
	for i := 0; i < max(spaces, 1); i++ {
		w.Spaces = append(w.Spaces, fmt.Sprintf("proc%d", i))
	}
	seg := o.Segment.Size()
	segPages := o.Segment.Pages()
	space := func() string {
		return w.Spaces[rng.Intn(len(w.Spaces))]
	}
	user := func() Number {
		return Number(userBase + rng.Intn(max(o.UserSegments, 1))*int(seg) + rng.Intn(segPages)*hostarch.PageSize)
	}
	kernel := func() Number {
		return Number(int(o.KernelWindow) + rng.Intn(max(o.KernelSegments, 1))*int(seg) + rng.Intn(segPages)*hostarch.PageSize)
	}

	for len(w.Steps) < steps {
		var s Step
		switch op := rng.Intn(24); {
		case op < 10:
			s = Step{Op: OpTouch, Space: space(), Start: user(), Length: Number(rng.Intn(3) * hostarch.PageSize), Write: rng.Intn(2) == 0}
		case op == 10:
			s = Step{Op: OpSwitch, Space: space()}
		case op == 11:
			s = Step{Op: OpFlushRange, Space: space(), Start: user(), Length: Number(rng.Intn(3*int(seg)) + 1)}
		case op == 12:
			s = Step{Op: OpFlushTLBRange, Space: space(), Start: user(), Length: Number(rng.Intn(2*int(seg)) + 1)}
		case op == 13:
			s = Step{Op: OpFlushPage, Space: space(), Start: user()}
			if rng.Intn(2) == 0 {
				s.Op = OpFlushTLBPage
			}
		case op == 14:
			s = Step{Op: OpFlushMM, Space: space()}
			if rng.Intn(2) == 0 {
				s.Op = OpFlushTLBMM
			}
		case op == 15:
			s = Step{Op: OpUnmap, Space: space(), Start: user(), Length: Number(rng.Intn(int(seg)) + 1)}
		case op == 16:
			s = Step{Op: OpGrowKernel}
		case op == 17 || op == 18:
			if o.KernelSegments == 0 {
				continue
			}
			s = Step{Op: OpKernelTouch, Start: kernel(), Write: rng.Intn(2) == 0}
		case op == 19:
			s = Step{Op: OpExit, Space: space()}
		case op == 20:
			if o.LockSegments == 0 {
				continue
			}
			start := int(o.KernelWindow) + (o.KernelSegments+rng.Intn(o.LockSegments))*int(seg)
			s = Step{Op: OpLock, Start: Number(start), Length: Number(seg)}
			if rng.Intn(2) == 0 {
				s.Op = OpUnlock
			}
		case op == 21:
			s = Step{Op: OpFlushTLBAll}
		case op == 22:
			s = Step{Op: OpFlushCacheAll}
		default:
			if o.KernelSegments == 0 {
				continue
			}
			s = Step{Op: OpPageToRAM, Start: kernel()}
		}
		w.Steps = append(w.Steps, s)
	}
	return w
}
