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

package sun4c

import (
	"errors"
	"math/rand"
	"testing"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/pgtable"
	"gvisor.dev/sun4c/pkg/ring"
)

// testSegmentShift gives 8-page segments.
const testSegmentShift = 15

const segSize = 1 << testSegmentShift

// testGeometry returns a geometry with the given number of contexts and user
// segments, besides the invalid PMEG, one locked kernel segment and one
// kernel seed entry.
func testGeometry(contexts, userSegs int) mmuhw.Geometry {
	return mmuhw.Geometry{
		NumContexts: contexts,
		NumSegmaps:  userSegs + 3,
		Segment:     hostarch.SegmentLayout{Shift: testSegmentShift},
		CacheSize:   16384,
		LineSize:    16,
	}
}

func testConfig() Config {
	return Config{
		KernelBase:       DefaultKernelBase,
		LockedSegments:   1,
		KernelRingSeed:   1,
		LendReserve:      2,
		RangeFlushPages:  8,
		Preload:          true,
		AllowAnyGeometry: true,
	}
}

func newTestManager(t *testing.T, g mmuhw.Geometry, cfg Config) (*Manager, *mmuhw.Machine) {
	t.Helper()
	mach, err := mmuhw.NewMachine(g)
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	m, err := New(mach, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	checkInvariants(t, m)
	return m, mach
}

func checkInvariants(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func userPTE(pfn uint32) mmuhw.PTE {
	return mmuhw.MakePTE(pfn, true /* write */, false /* priv */, hostarch.MemoryTypeCached)
}

func kernelPTE(pfn uint32) mmuhw.PTE {
	return mmuhw.MakePTE(pfn, true /* write */, true /* priv */, hostarch.MemoryTypeCached)
}

// psegs returns the PMEGs on r in ring order.
func psegs(m *Manager, r *ring.Ring) []mmuhw.PMEG {
	var out []mmuhw.PMEG
	for h := r.Front(); h != ring.Nil; h = r.Next(h) {
		out = append(out, m.entries[h].pseg)
	}
	return out
}

// harness drives a manager the way a kernel would: user accesses go through
// the simulated machine, and faults are resolved from per-space page tables.
type harness struct {
	t    *testing.T
	m    *Manager
	mach *mmuhw.Machine
	cur  *MemorySpace
	pts  map[*MemorySpace]*pgtable.Table

	// nextPFN is never reused, so any stale cache hit is a coherence bug.
	nextPFN uint32
}

func newHarness(t *testing.T, g mmuhw.Geometry, cfg Config) *harness {
	m, mach := newTestManager(t, g, cfg)
	return &harness{
		t:       t,
		m:       m,
		mach:    mach,
		pts:     make(map[*MemorySpace]*pgtable.Table),
		nextPFN: 0x1000,
	}
}

func (h *harness) space(name string) *MemorySpace {
	pt := pgtable.New()
	ms := NewMemorySpace(name, pt)
	h.pts[ms] = pt
	return ms
}

func (h *harness) switchTo(ms *MemorySpace) {
	h.m.SwitchMM(h.cur, ms)
	h.cur = ms
}

// touch accesses addr in ms, resolving faults.
func (h *harness) touch(ms *MemorySpace, addr hostarch.Addr, write bool) {
	h.t.Helper()
	h.switchTo(ms)
	pt := h.pts[ms]
	for try := 0; try < 2; try++ {
		_, err := h.mach.Access(addr, write, true /* user */)
		if err == nil {
			return
		}
		var f *mmuhw.Fault
		if !errors.As(err, &f) || f.Kind == mmuhw.ProtectionFault {
			h.t.Fatalf("Access(%v) in %v: %v", addr, ms, err)
		}
		pte, ok := pt.Lookup(addr)
		if !ok {
			pte = userPTE(h.nextPFN)
			h.nextPFN++
			pt.Set(addr, pte)
		}
		h.m.UpdateMMUCache(ms, addr, pte)
	}
	h.t.Fatalf("Access(%v) in %v still faults after UpdateMMUCache", addr, ms)
}

// kernelTouch maps and reads the kernel page at addr. Kernel pages map to a
// fixed frame.
func (h *harness) kernelTouch(addr hostarch.Addr) {
	h.t.Helper()
	pfn := 0x8000 + uint32(addr-h.m.KernelBase())>>hostarch.PageShift&0x3fff
	if _, err := h.mach.Access(addr, false, false); err != nil {
		h.m.HandleKernelFault(addr, kernelPTE(pfn))
		if _, err := h.mach.Access(addr, false, false); err != nil {
			h.t.Fatalf("kernel Access(%v): %v", addr, err)
		}
	}
}

// exit tears down ms and returns a fresh space to replace it.
func (h *harness) exit(ms *MemorySpace) *MemorySpace {
	h.m.DestroyContext(ms)
	delete(h.pts, ms)
	if h.cur == ms {
		h.cur = nil
	}
	return h.space(ms.Name())
}

// userAddr returns page p of user segment s in the test window.
func userAddr(s, p int) hostarch.Addr {
	return hostarch.Addr(0x100000 + s*segSize + p*hostarch.PageSize)
}

// randomOps runs n random operations over spaces, checking invariants after
// each.
func (h *harness) randomOps(seed int64, n int, spaces []*MemorySpace) {
	h.t.Helper()
	rng := rand.New(rand.NewSource(seed))
	kbase := h.m.KernelBase()
	for i := 0; i < n; i++ {
		si := rng.Intn(len(spaces))
		ms := spaces[si]
		switch op := rng.Intn(20); {
		case op < 10:
			h.touch(ms, userAddr(rng.Intn(12), rng.Intn(8)), rng.Intn(2) == 0)
		case op == 10:
			start := userAddr(rng.Intn(12), rng.Intn(8))
			h.m.FlushCacheRange(ms, start, start+hostarch.Addr(rng.Intn(3*segSize)+1))
		case op == 11:
			start := userAddr(rng.Intn(12), rng.Intn(8))
			h.m.FlushTLBRange(ms, start, start+hostarch.Addr(rng.Intn(2*segSize)+1))
		case op == 12:
			h.m.FlushTLBPage(ms, userAddr(rng.Intn(12), rng.Intn(8)))
		case op == 13:
			if rng.Intn(2) == 0 {
				h.m.FlushCacheMM(ms)
			} else {
				h.m.FlushCachePage(ms, userAddr(rng.Intn(12), rng.Intn(8)))
			}
		case op == 14:
			h.m.GrowKernelRing()
		case op == 15:
			h.kernelTouch(kbase + 0x400000 + hostarch.Addr(rng.Intn(6)*segSize+rng.Intn(8)*hostarch.PageSize))
		case op == 16:
			spaces[si] = h.exit(ms)
		case op == 17:
			base := kbase + 0x800000 + hostarch.Addr(rng.Intn(4)*segSize)
			var err error
			if rng.Intn(2) == 0 {
				err = h.m.LockRange(base, segSize)
			} else {
				err = h.m.UnlockRange(base, segSize)
			}
			if err != nil && !errors.Is(err, ErrAlreadyLocked) && !errors.Is(err, ErrNotLocked) && !errors.Is(err, ErrLockBudget) {
				h.t.Fatalf("lock op at %v: %v", base, err)
			}
		case op == 18:
			h.m.FlushTLBAll()
		default:
			h.m.FlushCacheAll()
		}
		if err := h.m.CheckInvariants(); err != nil {
			h.t.Fatalf("step %d: %v", i, err)
		}
	}
}
