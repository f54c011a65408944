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

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
)

// TestFaultFill maps a first segment: one entry moves from the user free
// ring to the context ring and the LRU ring.
func TestFaultFill(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(2, 4), testConfig())
	ms := NewMemorySpace("a", nil)
	m.SwitchMM(nil, ms)

	const addr = hostarch.Addr(0x10000)
	m.UpdateMMUCache(ms, addr, userPTE(0x100))
	checkInvariants(t, m)

	s := m.Stats()
	if s.UserFree != 3 || s.PerContext[0] != 1 || s.UserUsed != 1 {
		t.Errorf("Stats = %+v, want 3 free, 1 in context 0, 1 on LRU", s)
	}
	if diff := cmp.Diff([]mmuhw.PMEG{2}, psegs(m, m.ctxRings[0])); diff != "" {
		t.Errorf("context ring mismatch (-want +got):\n%s", diff)
	}
	if got := mach.SegmapIn(0, addr); got != 2 {
		t.Errorf("segmap = %d, want 2", got)
	}
	if got := mach.PTE(addr); got != userPTE(0x100) {
		t.Errorf("PTE = %v, want %v", got, userPTE(0x100))
	}
	// The rest of the segment was cleared.
	for p := 1; p < 8; p++ {
		if got := mach.PTE(addr + hostarch.Addr(p*hostarch.PageSize)); got != 0 {
			t.Errorf("page %d PTE = %v, want 0", p, got)
		}
	}
}

// TestSameSegmentFault refaults within a mapped segment: only LRU recency
// changes.
func TestSameSegmentFault(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(2, 4), testConfig())
	ms := NewMemorySpace("a", nil)
	m.SwitchMM(nil, ms)

	m.UpdateMMUCache(ms, 0x10000, userPTE(1))
	m.UpdateMMUCache(ms, 0x20000, userPTE(2))
	if diff := cmp.Diff([]mmuhw.PMEG{2, 3}, psegs(m, m.ulru)); diff != "" {
		t.Fatalf("LRU mismatch (-want +got):\n%s", diff)
	}

	m.UpdateMMUCache(ms, 0x11000, userPTE(3))
	checkInvariants(t, m)

	// The refaulted segment is now the most recently used.
	if diff := cmp.Diff([]mmuhw.PMEG{3, 2}, psegs(m, m.ulru)); diff != "" {
		t.Errorf("LRU mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]mmuhw.PMEG{2, 3}, psegs(m, m.ctxRings[0])); diff != "" {
		t.Errorf("context ring mismatch (-want +got):\n%s", diff)
	}
	s := m.Stats()
	if s.UserFree != 2 || s.Events.SegmentFills != 2 || s.Events.PageFills != 1 {
		t.Errorf("Stats = %+v, want 2 free, 2 segment fills, 1 page fill", s)
	}
	if got := mach.PTE(0x11000); got != userPTE(3) {
		t.Errorf("PTE = %v, want %v", got, userPTE(3))
	}
}

// TestEvictUnderExhaustion steals the only user entry from another context.
func TestEvictUnderExhaustion(t *testing.T) {
	m, mach := newTestManager(t, testGeometry(2, 1), testConfig())
	p1 := NewMemorySpace("p1", nil)
	p2 := NewMemorySpace("p2", nil)

	const s1, s2 = hostarch.Addr(0x10000), hostarch.Addr(0x40000)
	m.SwitchMM(nil, p1)
	m.UpdateMMUCache(p1, s1, userPTE(1))
	m.SwitchMM(p1, p2)
	m.UpdateMMUCache(p2, s2, userPTE(2))
	checkInvariants(t, m)

	s := m.Stats()
	if diff := cmp.Diff([]int{0, 1}, s.PerContext); diff != "" {
		t.Errorf("PerContext mismatch (-want +got):\n%s", diff)
	}
	if s.Events.UserSteals != 1 || s.UserFree != 0 {
		t.Errorf("Stats = %+v, want one user steal and no free entries", s)
	}
	invalid := mach.Geometry().InvalidPMEG()
	if got := mach.SegmapIn(0, s1); got != invalid {
		t.Errorf("evicted segment still mapped: PMEG %d", got)
	}
	if got := mach.SegmapIn(1, s2); got != 2 {
		t.Errorf("new segment PMEG = %d, want 2", got)
	}
	if mach.Context() != 1 {
		t.Errorf("context register = %d, want 1", mach.Context())
	}
}

// TestBorrowThenReclaim lends user entries to the kernel up to the ceiling,
// then takes one back for a user fault before evicting anything.
func TestBorrowThenReclaim(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUserLendable = 2
	m, _ := newTestManager(t, testGeometry(2, 3), cfg)

	for i, want := range []bool{true, true, false} {
		ufree := m.Stats().UserFree
		if got := m.GrowKernelRing(); got != want {
			t.Errorf("GrowKernelRing #%d = %t, want %t", i, got, want)
		}
		s := m.Stats()
		if !want && s.UserFree != ufree {
			t.Errorf("refused growth changed the user free ring: %d -> %d", ufree, s.UserFree)
		}
	}
	s := m.Stats()
	if s.UserTaken != 2 || s.UserFree != 1 || s.KernelFree != 3 || s.Events.GrowRefusals != 1 {
		t.Fatalf("Stats = %+v, want 2 taken, 1 user free, 3 kernel free, 1 refusal", s)
	}

	p1 := NewMemorySpace("p1", nil)
	p2 := NewMemorySpace("p2", nil)
	m.SwitchMM(nil, p1)
	m.UpdateMMUCache(p1, 0x10000, userPTE(1))
	m.SwitchMM(p1, p2)
	m.UpdateMMUCache(p2, 0x10000, userPTE(2))
	checkInvariants(t, m)

	s = m.Stats()
	if s.UserTaken != 1 || s.KernelFree != 2 || s.Events.KernelReclaims != 1 || s.Events.UserSteals != 0 {
		t.Errorf("Stats = %+v, want 1 taken, 2 kernel free, 1 reclaim, no steals", s)
	}
	if diff := cmp.Diff([]int{1, 1}, s.PerContext); diff != "" {
		t.Errorf("PerContext mismatch (-want +got):\n%s", diff)
	}
}

func TestGrowNeverExceedsCeiling(t *testing.T) {
	m, _ := newTestManager(t, testGeometry(2, 8), testConfig())
	for i := 0; i < 20; i++ {
		m.GrowKernelRing()
		s := m.Stats()
		if s.UserTaken > s.MaxUserTaken {
			t.Fatalf("after %d grows: %d taken, ceiling %d", i+1, s.UserTaken, s.MaxUserTaken)
		}
	}
	if s := m.Stats(); s.UserTaken != s.MaxUserTaken {
		t.Errorf("UserTaken = %d, want the ceiling %d", s.UserTaken, s.MaxUserTaken)
	}
	checkInvariants(t, m)
}

// TestStrategiesReturnUnlinkedEntries exhausts every source in turn.
func TestStrategiesReturnUnlinkedEntries(t *testing.T) {
	m, _ := newTestManager(t, testGeometry(2, 3), testConfig())
	m.GrowKernelRing()

	m.mu.Lock()
	defer m.mu.Unlock()
	var got []mmuhw.PMEG
	for i := 0; i < 4; i++ {
		h := m.userStrategyLocked()
		e := &m.entries[h]
		if e.owner != ownNone || m.lru.Linked(h) {
			t.Fatalf("user strategy returned linked %v", e)
		}
		got = append(got, e.pseg)
		e.vaddr = hostarch.Addr(0x10000 + i*segSize)
		m.addUserLocked(0, h)
	}
	// Two free entries, the borrowed one taken back from the kernel, then
	// the oldest user mapping.
	if diff := cmp.Diff([]mmuhw.PMEG{3, 4, 2, 3}, got); diff != "" {
		t.Errorf("user strategy order mismatch (-want +got):\n%s", diff)
	}
	if m.events.KernelReclaims != 1 || m.events.UserSteals != 1 {
		t.Errorf("events = %+v, want one reclaim and one steal", m.events)
	}
}
