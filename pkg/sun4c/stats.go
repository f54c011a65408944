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
	"fmt"
	"strings"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/ring"
)

// Events counts manager activity since boot.
type Events struct {
	// SegmentFills counts user faults that mapped a new segment.
	SegmentFills uint64

	// PageFills counts user faults in an already mapped segment.
	PageFills uint64

	// Preloads counts PTEs loaded from page tables by segment fills.
	Preloads uint64

	// KernelFills counts kernel segments mapped by HandleKernelFault.
	KernelFills uint64

	// KernelSteals counts kernel segments evicted by the kernel strategy.
	KernelSteals uint64

	// UserSteals counts user segments evicted by the user strategy.
	UserSteals uint64

	// KernelReclaims counts borrowed entries taken back from the kernel.
	KernelReclaims uint64

	// KernelGrows counts entries lent to the kernel.
	KernelGrows uint64

	// GrowRefusals counts kernel ring growth refused at the ceiling.
	GrowRefusals uint64

	// ContextSteals counts contexts taken from their owner.
	ContextSteals uint64

	// ContextDemaps counts contexts flushed and unmapped.
	ContextDemaps uint64

	// RangePageFlushes counts segments kept by a range flush.
	RangePageFlushes uint64

	// RangeEvictions counts segments evicted by a range flush.
	RangeEvictions uint64
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	VAC         string
	VACSize     int
	LineSize    int
	HWFlushes   bool
	NumContexts int
	NumSegmaps  int

	// Segment counts by ring.
	KernelSegments int
	KernelFree     int
	UserUsed       int
	UserFree       int
	Locked         int

	// PerContext holds the number of user segments of each context.
	PerContext []int

	UsedContexts int
	FreeContexts int

	UserTaken    int
	MaxUserTaken int

	Events Events
}

// Stats returns a snapshot of pool occupancy. It has no side effects.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		VAC:            m.vac.String(),
		VACSize:        m.vac.Size,
		LineSize:       m.vac.LineSize,
		HWFlushes:      m.flusher.HW(),
		NumContexts:    m.geo.NumContexts,
		NumSegmaps:     m.geo.NumSegmaps,
		KernelSegments: m.kernel.Len(),
		KernelFree:     m.kfree.Len(),
		UserUsed:       m.ulru.Len(),
		UserFree:       m.ufree.Len(),
		Locked:         m.locked.Len(),
		PerContext:     make([]int, len(m.ctxRings)),
		UsedContexts:   m.ctxUsed.Len(),
		FreeContexts:   m.ctxFree.Len(),
		UserTaken:      m.userTaken,
		MaxUserTaken:   m.maxUserTaken,
		Events:         m.events,
	}
	for i, r := range m.ctxRings {
		s.PerContext[i] = r.Len()
	}
	return s
}

// String renders s in the format of /proc/mmuinfo.
func (s Stats) String() string {
	var b strings.Builder
	flush := "no"
	if s.HWFlushes {
		flush = "yes"
	}
	fmt.Fprintf(&b, "vacsize\t\t: %d bytes\n", s.VACSize)
	fmt.Fprintf(&b, "vachwflush\t: %s\n", flush)
	fmt.Fprintf(&b, "vaclinesize\t: %d bytes\n", s.LineSize)
	fmt.Fprintf(&b, "mmuctxs\t\t: %d\n", s.NumContexts)
	fmt.Fprintf(&b, "mmupsegs\t: %d\n", s.NumSegmaps)
	fmt.Fprintf(&b, "kernelpsegs\t: %d\n", s.KernelSegments)
	fmt.Fprintf(&b, "kfreepsegs\t: %d\n", s.KernelFree)
	fmt.Fprintf(&b, "usedpsegs\t: %d\n", s.UserUsed)
	fmt.Fprintf(&b, "ufreepsegs\t: %d\n", s.UserFree)
	fmt.Fprintf(&b, "lockedpsegs\t: %d\n", s.Locked)
	fmt.Fprintf(&b, "user_taken\t: %d\n", s.UserTaken)
	fmt.Fprintf(&b, "max_taken\t: %d\n", s.MaxUserTaken)
	fmt.Fprintf(&b, "usedctxs\t: %d\n", s.UsedContexts)
	for i, n := range s.PerContext {
		if n != 0 {
			fmt.Fprintf(&b, "context%d\t: %d\n", i, n)
		}
	}
	return b.String()
}

// segmapReader is implemented by hardware that can read the segment map of
// any context without loading the context register.
type segmapReader interface {
	SegmapIn(ctx int, addr hostarch.Addr) mmuhw.PMEG
}

// CheckInvariants verifies the consistency of the pool: every ring is well
// formed, every entry is on exactly one ownership ring, exactly the user
// entries are on the LRU ring, context rings are sorted by address, and the
// kernel has not borrowed more than it may.
func (m *Manager) CheckInvariants() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rings := []struct {
		r *ring.Ring
		o ownership
	}{
		{m.kfree, ownKernelFree},
		{m.kernel, ownKernel},
		{m.ufree, ownUserFree},
		{m.locked, ownLocked},
	}
	for _, r := range m.ctxRings {
		rings = append(rings, struct {
			r *ring.Ring
			o ownership
		}{r, ownContext})
	}

	seen := make([]bool, len(m.entries))
	users := 0
	for i, rr := range rings {
		if err := rr.r.Validate(); err != nil {
			return err
		}
		prev := hostarch.Addr(0)
		for h := rr.r.Front(); h != ring.Nil; h = rr.r.Next(h) {
			if int(h) >= len(m.entries) {
				return fmt.Errorf("%v ring links sentinel %d", rr.o, h)
			}
			e := &m.entries[h]
			if seen[h] {
				return fmt.Errorf("%v is on two ownership rings", e)
			}
			seen[h] = true
			if e.owner != rr.o {
				return fmt.Errorf("%v found on the %v ring", e, rr.o)
			}
			if e.locked != (rr.o == ownLocked) {
				return fmt.Errorf("%v has locked=%t", e, e.locked)
			}
			if rr.o != ownContext {
				continue
			}
			ctx := i - 4
			if e.ctx != ctx {
				return fmt.Errorf("%v found on context %d ring", e, ctx)
			}
			if h != rr.r.Front() && e.vaddr <= prev {
				return fmt.Errorf("context %d ring unsorted: %v after %v", ctx, e.vaddr, prev)
			}
			prev = e.vaddr
			if !m.lru.Linked(h) {
				return fmt.Errorf("%v is not on the LRU ring", e)
			}
			if r, ok := m.hw.(segmapReader); ok {
				if got := r.SegmapIn(ctx, e.vaddr); got != e.pseg {
					return fmt.Errorf("%v but context %d maps PMEG %d", e, ctx, got)
				}
			}
			users++
		}
	}
	for h := range seen {
		if !seen[h] {
			return fmt.Errorf("%v is on no ownership ring", &m.entries[h])
		}
	}

	if err := m.ulru.Validate(); err != nil {
		return err
	}
	if m.ulru.Len() != users {
		return fmt.Errorf("LRU ring holds %d entries, context rings %d", m.ulru.Len(), users)
	}

	switch {
	case m.userTaken < 0, m.maxUserTaken < 0:
		return fmt.Errorf("negative borrowing counters: %d taken, %d max", m.userTaken, m.maxUserTaken)
	case m.userTaken > m.maxUserTaken:
		return fmt.Errorf("kernel borrowed %d user segments, ceiling %d", m.userTaken, m.maxUserTaken)
	}
	if got, want := m.kfree.Len()+m.kernel.Len(), m.cfg.KernelRingSeed+m.userTaken; got != want {
		return fmt.Errorf("kernel owns %d segments, want %d", got, want)
	}

	if err := m.ctxFree.Validate(); err != nil {
		return err
	}
	if err := m.ctxUsed.Validate(); err != nil {
		return err
	}
	if n := m.ctxFree.Len() + m.ctxUsed.Len(); n != len(m.contexts) {
		return fmt.Errorf("%d contexts on rings, want %d", n, len(m.contexts))
	}
	for h := m.ctxFree.Front(); h != ring.Nil; h = m.ctxFree.Next(h) {
		if m.contexts[h].owner != nil {
			return fmt.Errorf("free context %d owned by %v", h, m.contexts[h].owner)
		}
		if !m.ctxRings[h].Empty() {
			return fmt.Errorf("free context %d maps %d segments", h, m.ctxRings[h].Len())
		}
	}
	for h := m.ctxUsed.Front(); h != ring.Nil; h = m.ctxUsed.Next(h) {
		if o := m.contexts[h].owner; o == nil || o.context != int(h) {
			return fmt.Errorf("used context %d owned by %v", h, o)
		}
	}
	return nil
}
