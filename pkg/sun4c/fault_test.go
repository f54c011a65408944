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
	"testing"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/pgtable"
)

func TestPreload(t *testing.T) {
	for _, preload := range []bool{false, true} {
		cfg := testConfig()
		cfg.Preload = preload
		m, mach := newTestManager(t, testGeometry(2, 4), cfg)

		pt := pgtable.New()
		pt.Set(0x13000, userPTE(0x33))
		pt.Set(0x15000, 0) // present but invalid
		ms := NewMemorySpace("a", pt)
		m.SwitchMM(nil, ms)
		m.UpdateMMUCache(ms, 0x10000, userPTE(0x30))

		want := mmuhw.PTE(0)
		if preload {
			want = userPTE(0x33)
		}
		if got := mach.PTE(0x13000); got != want {
			t.Errorf("preload=%t: PTE = %v, want %v", preload, got, want)
		}
		if got := mach.PTE(0x15000); got != 0 {
			t.Errorf("preload=%t: invalid translation loaded: %v", preload, got)
		}
		if got := mach.PTE(0x10000); got != userPTE(0x30) {
			t.Errorf("preload=%t: faulting PTE = %v", preload, got)
		}
		if got, want := m.Stats().Events.Preloads, map[bool]uint64{false: 0, true: 1}[preload]; got != want {
			t.Errorf("preload=%t: Preloads = %d, want %d", preload, got, want)
		}
	}
}

// TestFaultFromOtherContext resolves a fault for a space that is not the
// current one.
func TestFaultFromOtherContext(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(2, 4), testConfig())
	a := NewMemorySpace("a", nil)
	b := NewMemorySpace("b", nil)
	m.SwitchMM(nil, a)
	m.SwitchMM(a, b)

	m.UpdateMMUCache(a, 0x10000, userPTE(1))
	checkInvariants(t, m)
	if mach.Context() != 1 {
		t.Errorf("context register = %d, want 1", mach.Context())
	}
	if mach.SegmapIn(0, 0x10000) == mach.Geometry().InvalidPMEG() {
		t.Errorf("segment not mapped in a's context")
	}
	if mach.SegmapIn(1, 0x10000) != mach.Geometry().InvalidPMEG() {
		t.Errorf("segment mapped in b's context")
	}
}

func TestKernelFault(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(3, 4), testConfig())
	base := DefaultKernelBase + 0x400000

	m.HandleKernelFault(base+0x1000, kernelPTE(0x8001))
	checkInvariants(t, m)
	s := m.Stats()
	if s.KernelSegments != 1 || s.KernelFree != 0 || s.Events.KernelFills != 1 {
		t.Fatalf("Stats = %+v, want one kernel segment", s)
	}
	for c := 0; c < 3; c++ {
		mach.SetContext(c)
		phys, err := mach.Access(base+0x1004, false, false)
		if err != nil || phys != 0x8001004 {
			t.Errorf("context %d: Access = (%#x, %v), want 0x8001004", c, phys, err)
		}
	}
	mach.SetContext(0)

	// A second page in the same segment needs no new entry.
	m.HandleKernelFault(base+0x2000, kernelPTE(0x8002))
	if got := m.Stats().Events.KernelFills; got != 1 {
		t.Errorf("KernelFills = %d, want 1", got)
	}

	// With the free ring empty, the oldest kernel segment is stolen.
	m.HandleKernelFault(base+segSize, kernelPTE(0x9000))
	checkInvariants(t, m)
	s = m.Stats()
	if s.KernelSegments != 1 || s.Events.KernelSteals != 1 {
		t.Errorf("Stats = %+v, want one kernel segment after a steal", s)
	}
	if _, err := mach.Access(base+0x1000, false, false); err == nil {
		t.Errorf("stolen kernel segment still mapped")
	}
	if mach.Cached(0, base+0x1000) {
		t.Errorf("stolen kernel segment still cached")
	}
}

func TestKernelFaultReplacesStalePTEs(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(2, 4), testConfig())
	base := DefaultKernelBase + 0x400000
	m.HandleKernelFault(base, kernelPTE(1))
	m.HandleKernelFault(base+0x1000, kernelPTE(2))
	m.HandleKernelFault(base+segSize, kernelPTE(3))

	// The PMEG now maps the second segment, without the first one's PTEs.
	if got := mach.PTE(base + segSize + 0x1000); got != 0 {
		t.Errorf("stale PTE %v in a reused kernel PMEG", got)
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestFaultPreconditions(t *testing.T) {
	m, _ := newTestManager(t, testGeometry(2, 4), testConfig())
	ms := NewMemorySpace("a", nil)
	expectPanic(t, "fault without a context", func() {
		m.UpdateMMUCache(ms, 0x10000, userPTE(1))
	})
	m.SwitchMM(nil, ms)
	expectPanic(t, "user fault at a kernel address", func() {
		m.UpdateMMUCache(ms, DefaultKernelBase, userPTE(1))
	})
	expectPanic(t, "kernel fault at a user address", func() {
		m.HandleKernelFault(0x10000, kernelPTE(1))
	})
	expectPanic(t, "unprivileged kernel PTE", func() {
		m.HandleKernelFault(DefaultKernelBase+0x400000, userPTE(1))
	})
	// The lock is released by the deferred unlocks.
	m.UpdateMMUCache(ms, 0x10000, userPTE(1))
	checkInvariants(t, m)
}

func TestUserFaultAddressRounding(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(2, 4), testConfig())
	ms := NewMemorySpace("a", nil)
	m.SwitchMM(nil, ms)
	m.UpdateMMUCache(ms, 0x12345, userPTE(7))
	if got := mach.PTE(0x12000); got != userPTE(7) {
		t.Errorf("PTE = %v, want %v", got, userPTE(7))
	}
	if got, want := m.entries[mach.Segmap(0x12000)].vaddr, hostarch.Addr(0x10000); got != want {
		t.Errorf("entry vaddr = %v, want %v", got, want)
	}
}
