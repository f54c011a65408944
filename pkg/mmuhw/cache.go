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

package mmuhw

import (
	"fmt"

	"gvisor.dev/sun4c/pkg/hostarch"
)

// FaultKind classifies a failed translation.
type FaultKind int

const (
	// SegmentFault means the segment map holds the invalid PMEG.
	SegmentFault FaultKind = iota + 1

	// PageFault means the page table entry is invalid.
	PageFault

	// ProtectionFault means the access is not permitted by the entry.
	ProtectionFault
)

// String implements fmt.Stringer.String.
func (k FaultKind) String() string {
	switch k {
	case SegmentFault:
		return "segment"
	case PageFault:
		return "page"
	case ProtectionFault:
		return "protection"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// Fault is returned by Access when translation fails.
type Fault struct {
	Kind    FaultKind
	Addr    hostarch.Addr
	Context int
	Write   bool
}

// Error implements error.Error.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault at %v in context %d (write=%t)", f.Kind, f.Addr, f.Context, f.Write)
}

// CacheEnabled implements Hardware.CacheEnabled.
func (m *Machine) CacheEnabled() bool {
	return m.cacheOn
}

// SetCacheEnabled implements Hardware.SetCacheEnabled.
func (m *Machine) SetCacheEnabled(on bool) {
	m.cacheOn = on
}

func (m *Machine) lineIndex(addr hostarch.Addr) int {
	return int(uint32(addr)/uint32(m.geo.LineSize)) % len(m.lines)
}

func (m *Machine) lineAddr(addr hostarch.Addr) hostarch.Addr {
	return addr &^ hostarch.Addr(m.geo.LineSize-1)
}

// matches returns true if a flush store of kind op at addr hits l.
func (m *Machine) matches(l *line, op CacheOp, addr hostarch.Addr) bool {
	if !l.valid {
		return false
	}
	switch op {
	case FlushContext:
		return !l.super && l.ctx == m.ctx
	case FlushSegment:
		return (l.super || l.ctx == m.ctx) && m.geo.Segment.RoundDown(l.vaddr) == m.geo.Segment.RoundDown(addr)
	case FlushPage:
		return (l.super || l.ctx == m.ctx) && l.vaddr.RoundDown() == addr.RoundDown()
	default:
		panic(fmt.Sprintf("unknown cache op %v", op))
	}
}

func (m *Machine) flushIndex(i int, op CacheOp, addr hostarch.Addr) {
	if l := &m.lines[i]; m.matches(l, op, addr) {
		*l = line{}
		m.counters.LinesInvalidated++
	}
}

// FlushLine implements Hardware.FlushLine.
func (m *Machine) FlushLine(op CacheOp, addr hostarch.Addr) {
	m.counters.LineFlushes++
	m.flushIndex(m.lineIndex(addr), op, addr)
}

// FlushChunk implements Hardware.FlushChunk.
func (m *Machine) FlushChunk(op CacheOp, addr hostarch.Addr) {
	m.counters.ChunkFlushes++
	first := m.lineIndex(addr.RoundDown())
	n := hostarch.PageSize / m.geo.LineSize
	for i := 0; i < n; i++ {
		m.flushIndex((first+i)%len(m.lines), op, addr)
	}
}

// ClearTag implements Hardware.ClearTag.
func (m *Machine) ClearTag(addr hostarch.Addr) {
	m.counters.TagClears++
	m.lines[m.lineIndex(addr)] = line{}
}

// Load implements Hardware.Load.
func (m *Machine) Load(addr hostarch.Addr) {
	m.counters.Loads++
	m.Access(addr, false /* write */, false /* user */)
}

// Access performs a load or store at addr through the MMU and the cache, as
// the CPU would. On success it returns the physical address. Referenced and
// modified bits are updated in the page table entry.
//
// A cache hit whose tag disagrees with the live translation is counted as a
// stale hit: the CPU would have returned data belonging to another mapping.
func (m *Machine) Access(addr hostarch.Addr, write, user bool) (uint32, error) {
	pmeg := m.Segmap(addr)
	if pmeg == m.geo.InvalidPMEG() {
		return 0, &Fault{Kind: SegmentFault, Addr: addr, Context: m.ctx, Write: write}
	}
	ptep := &m.pmegs[pmeg][m.geo.Segment.PageIndex(addr)]
	pte := *ptep
	switch {
	case !pte.Valid():
		return 0, &Fault{Kind: PageFault, Addr: addr, Context: m.ctx, Write: write}
	case user && pte.Privileged(), write && !pte.Writable():
		return 0, &Fault{Kind: ProtectionFault, Addr: addr, Context: m.ctx, Write: write}
	}
	*ptep |= PTERef
	if write {
		*ptep |= PTEDirty
	}
	phys := pte.PhysAddr() | addr.PageOffset()

	if !m.cacheOn || !pte.Cacheable() {
		return phys, nil
	}
	la := m.lineAddr(addr)
	lphys := phys &^ uint32(m.geo.LineSize-1)
	l := &m.lines[m.lineIndex(addr)]
	if l.valid && l.vaddr == la && (l.super || l.ctx == m.ctx) {
		m.counters.Hits++
		if l.phys != lphys {
			m.counters.StaleHits++
		}
		return phys, nil
	}
	m.counters.Fills++
	*l = line{
		valid: true,
		super: pte.Privileged(),
		ctx:   m.ctx,
		vaddr: la,
		phys:  lphys,
	}
	return phys, nil
}

// Cached returns true if the line for addr in context ctx is resident.
func (m *Machine) Cached(ctx int, addr hostarch.Addr) bool {
	l := &m.lines[m.lineIndex(addr)]
	return l.valid && l.vaddr == m.lineAddr(addr) && (l.super || l.ctx == ctx)
}

// ValidLines returns the number of valid cache lines.
func (m *Machine) ValidLines() int {
	n := 0
	for i := range m.lines {
		if m.lines[i].valid {
			n++
		}
	}
	return n
}
