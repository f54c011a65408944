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
	"context"
	"errors"
	"fmt"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/log"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/pgtable"
	"gvisor.dev/sun4c/pkg/sun4c"
)

// User pages get frames from [firstUserPFN, kernelPFNBase), handed out in
// order and recycled only after the whole window is used.
const firstUserPFN = 0x1000

// kernelPFNBase is the frame kernel-touch maps KernelBase to. Kernel frames
// wrap every kernelPFNs pages.
const (
	kernelPFNBase = 0x8000
	kernelPFNs    = 0x8000
)

// Options control an Engine.
type Options struct {
	// CheckInvariants verifies the manager's pool after every step.
	CheckInvariants bool

	// Logger receives per-step debug output. If nil, the global logger is
	// used.
	Logger log.Logger
}

// Result summarizes a workload run.
type Result struct {
	// Name is the workload name.
	Name string

	// Steps is the number of steps run, counting repeats.
	Steps int

	// UserFaults and KernelFaults count faults resolved by the engine.
	UserFaults   uint64
	KernelFaults uint64

	// LockRefusals counts lock and unlock steps the manager refused.
	LockRefusals int

	// Counters are the machine's operation counters. Counters.StaleHits
	// must be zero.
	Counters mmuhw.Counters

	// Stats is the manager's state after the last step.
	Stats sun4c.Stats
}

// space is one simulated address space.
type space struct {
	ms *sun4c.MemorySpace
	pt *pgtable.Table
}

// Engine replays workloads against a simulated machine. An Engine is not
// safe for concurrent use; run one per goroutine.
type Engine struct {
	opts Options
	mach *mmuhw.Machine
	m    *sun4c.Manager
	log  log.Logger

	spaces map[string]*space
	cur    *sun4c.MemorySpace

	nextPFN uint32
	res     Result
}

// NewEngine boots a manager on a fresh machine of geometry g.
func NewEngine(g mmuhw.Geometry, cfg sun4c.Config, opts Options) (*Engine, error) {
	mach, err := mmuhw.NewMachine(g)
	if err != nil {
		return nil, err
	}
	m, err := sun4c.New(mach, cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		opts:    opts,
		mach:    mach,
		m:       m,
		log:     opts.Logger,
		spaces:  make(map[string]*space),
		nextPFN: firstUserPFN,
	}
	if e.log == nil {
		e.log = log.Log()
	}
	return e, nil
}

// Manager returns the engine's manager.
func (e *Engine) Manager() *sun4c.Manager {
	return e.m
}

// Machine returns the engine's simulated machine.
func (e *Engine) Machine() *mmuhw.Machine {
	return e.mach
}

// Result returns the results accumulated so far.
func (e *Engine) Result() Result {
	r := e.res
	r.Counters = e.mach.Counters()
	r.Stats = e.m.Stats()
	return r
}

// Run validates w, creates its spaces and runs its steps. It stops at the
// first failing step or when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, w *Workload) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	e.res.Name = w.Name
	for _, name := range w.Spaces {
		if _, ok := e.spaces[name]; !ok {
			e.newSpace(name)
		}
	}
	for i := range w.Steps {
		s := &w.Steps[i]
		for n := 0; n < s.times(); n++ {
			if err := ctx.Err(); err != nil {
				return e.Result(), err
			}
			if err := e.Step(s); err != nil {
				return e.Result(), fmt.Errorf("step %d (%v): %w", i, s, err)
			}
		}
	}
	res := e.Result()
	if res.Counters.StaleHits != 0 {
		return res, fmt.Errorf("%d stale cache hits", res.Counters.StaleHits)
	}
	return res, nil
}

func (e *Engine) newSpace(name string) *space {
	pt := pgtable.New()
	sp := &space{ms: sun4c.NewMemorySpace(name, pt), pt: pt}
	e.spaces[name] = sp
	return sp
}

// pages returns the page-aligned range covered by s. An empty length covers
// the page at Start.
func pages(s *Step) hostarch.AddrRange {
	start := hostarch.Addr(s.Start).RoundDown()
	length := uint32(s.Length)
	if length == 0 {
		length = 1
	}
	end, ok := hostarch.Addr(s.Start).AddLength(length)
	if !ok {
		end = 0
	}
	if rounded, ok := end.RoundUp(); ok {
		end = rounded
	} else {
		end = 0
	}
	return hostarch.AddrRange{Start: start, End: end}
}

// forEachPage calls fn for each page in ar. End zero means the top of the
// address space.
func forEachPage(ar hostarch.AddrRange, fn func(hostarch.Addr) error) error {
	for addr := ar.Start; ; addr += hostarch.PageSize {
		if err := fn(addr); err != nil {
			return err
		}
		if addr+hostarch.PageSize == ar.End || addr+hostarch.PageSize == 0 {
			return nil
		}
	}
}

// Step runs one step once.
func (e *Engine) Step(s *Step) error {
	info, ok := ops[s.Op]
	if !ok {
		return fmt.Errorf("%w: unknown op %q", ErrInvalid, s.Op)
	}
	var sp *space
	if info.space {
		if sp, ok = e.spaces[s.Space]; !ok {
			sp = e.newSpace(s.Space)
		}
	}
	kbase := e.m.KernelBase()
	ar := pages(s)
	if info.addr {
		if info.user && (ar.Start >= kbase || ar.End > kbase || ar.End == 0) {
			return fmt.Errorf("%w: %v reaches kernel space at %v", ErrInvalid, ar, kbase)
		}
		if s.Op == OpKernelTouch && ar.Start < kbase {
			return fmt.Errorf("%w: kernel touch of user address %v", ErrInvalid, ar.Start)
		}
	}
	if e.log.IsLogging(log.Debug) {
		e.log.Debugf("%s: %v", e.res.Name, s)
	}
	e.res.Steps++

	switch s.Op {
	case OpSwitch:
		e.switchTo(sp)
	case OpTouch:
		if err := forEachPage(ar, func(addr hostarch.Addr) error {
			return e.touch(sp, addr, s.Write)
		}); err != nil {
			return err
		}
	case OpUnmap:
		// The order a kernel unmaps in: flush the cache while the
		// translations are still there, then drop them.
		e.m.FlushCacheRange(sp.ms, ar.Start, ar.End)
		sp.pt.ClearRange(ar)
		e.m.FlushTLBRange(sp.ms, ar.Start, ar.End)
	case OpFlushMM:
		e.m.FlushCacheMM(sp.ms)
	case OpFlushTLBMM:
		e.m.FlushTLBMM(sp.ms)
	case OpFlushRange:
		e.m.FlushCacheRange(sp.ms, ar.Start, ar.End)
	case OpFlushTLBRange:
		e.m.FlushTLBRange(sp.ms, ar.Start, ar.End)
	case OpFlushPage:
		e.m.FlushCachePage(sp.ms, ar.Start)
	case OpFlushTLBPage:
		e.m.FlushTLBPage(sp.ms, ar.Start)
	case OpExit:
		e.exit(sp)
	case OpLock, OpUnlock:
		length := uint32(ar.End - ar.Start)
		var err error
		if s.Op == OpLock {
			err = e.m.LockRange(ar.Start, length)
		} else {
			err = e.m.UnlockRange(ar.Start, length)
		}
		switch {
		case err == nil:
		case errors.Is(err, sun4c.ErrAlreadyLocked), errors.Is(err, sun4c.ErrNotLocked), errors.Is(err, sun4c.ErrLockBudget):
			e.res.LockRefusals++
			e.log.Debugf("%s: %v refused: %v", e.res.Name, s, err)
		default:
			return err
		}
	case OpGrowKernel:
		e.m.GrowKernelRing()
	case OpKernelTouch:
		if err := forEachPage(ar, func(addr hostarch.Addr) error {
			return e.kernelTouch(addr, s.Write)
		}); err != nil {
			return err
		}
	case OpFlushTLBAll:
		e.m.FlushTLBAll()
	case OpFlushCacheAll:
		e.m.FlushCacheAll()
	case OpPageToRAM:
		e.m.FlushPageToRAM(ar.Start)
	}

	if e.opts.CheckInvariants {
		if err := e.m.CheckInvariants(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) switchTo(sp *space) {
	e.m.SwitchMM(e.cur, sp.ms)
	e.cur = sp.ms
}

// touch accesses the user page at addr in sp, demand allocating a frame and
// loading the translation on a fault.
func (e *Engine) touch(sp *space, addr hostarch.Addr, write bool) error {
	if e.cur != sp.ms {
		e.switchTo(sp)
	}
	for try := 0; try < 2; try++ {
		_, err := e.mach.Access(addr, write, true /* user */)
		if err == nil {
			return nil
		}
		var f *mmuhw.Fault
		if !errors.As(err, &f) || f.Kind == mmuhw.ProtectionFault {
			return err
		}
		pte, ok := sp.pt.Lookup(addr)
		if !ok {
			pte = mmuhw.MakePTE(e.nextPFN, true /* write */, false /* priv */, hostarch.MemoryTypeCached)
			if e.nextPFN++; e.nextPFN == kernelPFNBase {
				e.nextPFN = firstUserPFN
			}
			sp.pt.Set(addr, pte)
		}
		e.res.UserFaults++
		e.m.UpdateMMUCache(sp.ms, addr, pte)
	}
	return fmt.Errorf("access to %v in %v still faults after UpdateMMUCache", addr, sp.ms)
}

// kernelTouch accesses the kernel page at addr. Kernel pages map to a fixed
// frame derived from their address.
func (e *Engine) kernelTouch(addr hostarch.Addr, write bool) error {
	for try := 0; try < 2; try++ {
		_, err := e.mach.Access(addr, write, false /* user */)
		if err == nil {
			return nil
		}
		var f *mmuhw.Fault
		if !errors.As(err, &f) || f.Kind == mmuhw.ProtectionFault {
			return err
		}
		pfn := kernelPFNBase + (uint32(addr-e.m.KernelBase())>>hostarch.PageShift)%kernelPFNs
		e.res.KernelFaults++
		e.m.HandleKernelFault(addr, mmuhw.MakePTE(pfn, true /* write */, true /* priv */, hostarch.MemoryTypeCached))
	}
	return fmt.Errorf("kernel access to %v still faults after HandleKernelFault", addr)
}

// exit tears sp down and replaces it with an empty space of the same name.
func (e *Engine) exit(sp *space) {
	e.m.DestroyContext(sp.ms)
	if e.cur == sp.ms {
		e.cur = nil
	}
	e.newSpace(sp.ms.Name())
}
