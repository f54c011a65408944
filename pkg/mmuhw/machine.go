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

// CacheOp selects which lines a cache flush store matches.
type CacheOp int

const (
	// FlushContext matches user lines of the current context.
	FlushContext CacheOp = iota

	// FlushSegment matches lines in the segment containing the store
	// address, in the current context or belonging to the supervisor.
	FlushSegment

	// FlushPage matches lines in the page containing the store address, in
	// the current context or belonging to the supervisor.
	FlushPage
)

// String implements fmt.Stringer.String.
func (op CacheOp) String() string {
	switch op {
	case FlushContext:
		return "context"
	case FlushSegment:
		return "segment"
	case FlushPage:
		return "page"
	default:
		return fmt.Sprintf("CacheOp(%d)", int(op))
	}
}

// Hardware is the register interface of the MMU and cache.
//
// Implementations model a single CPU and need not be safe for concurrent
// use.
type Hardware interface {
	// Geometry returns the machine geometry.
	Geometry() Geometry

	// Context returns the live context register.
	Context() int

	// SetContext loads the context register.
	SetContext(ctx int)

	// Segmap returns the PMEG mapped at addr in the current context.
	Segmap(addr hostarch.Addr) PMEG

	// PutSegmap maps pmeg at addr's segment in the current context.
	PutSegmap(addr hostarch.Addr, pmeg PMEG)

	// PTE returns the page table entry for addr through the current
	// segment map.
	PTE(addr hostarch.Addr) PTE

	// PutPTE writes the page table entry for addr through the current
	// segment map. Writes through an invalid segment are dropped.
	PutPTE(addr hostarch.Addr, pte PTE)

	// CacheEnabled returns true if the cache is on.
	CacheEnabled() bool

	// SetCacheEnabled turns the cache on or off.
	SetCacheEnabled(on bool)

	// FlushLine issues one software flush store: the line indexed by addr
	// is invalidated if it matches op.
	FlushLine(op CacheOp, addr hostarch.Addr)

	// FlushChunk issues one hardware-assisted flush store: every line in
	// the page-sized run of lines indexed from addr is invalidated if it
	// matches op.
	FlushChunk(op CacheOp, addr hostarch.Addr)

	// ClearTag clears the tag of the line indexed by addr.
	ClearTag(addr hostarch.Addr)

	// Load performs a supervisor load from addr, filling the cache.
	// Unmapped addresses are ignored.
	Load(addr hostarch.Addr)
}

// Counters counts hardware operations.
type Counters struct {
	ContextLoads     uint64
	SegmapWrites     uint64
	PTEWrites        uint64
	LineFlushes      uint64
	ChunkFlushes     uint64
	LinesInvalidated uint64
	TagClears        uint64
	Loads            uint64
	Fills            uint64
	Hits             uint64
	StaleHits        uint64
}

// line is one cache line tag.
type line struct {
	valid bool
	super bool
	ctx   int
	vaddr hostarch.Addr
	phys  uint32
}

// Machine is a simulated sun4c MMU and cache. It implements Hardware.
type Machine struct {
	geo Geometry
	ctx int

	// segmaps holds one segment map per context, keyed by segment number.
	// Missing keys map the invalid PMEG.
	segmaps []map[uint32]PMEG

	// pmegs holds the page table entries of every PMEG.
	pmegs [][]PTE

	cacheOn bool
	lines   []line

	counters Counters
}

var _ Hardware = (*Machine)(nil)

// NewMachine returns a machine with every segment unmapped, the cache off
// and context 0 loaded. Cache tags start out holding garbage, as they do at
// power on; they must be cleared before the cache is enabled.
func NewMachine(g Geometry) (*Machine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		geo:     g,
		segmaps: make([]map[uint32]PMEG, g.NumContexts),
		pmegs:   make([][]PTE, g.NumSegmaps),
		lines:   make([]line, g.NumLines()),
	}
	for i := range m.segmaps {
		m.segmaps[i] = make(map[uint32]PMEG)
	}
	pages := g.Segment.Pages()
	for i := range m.pmegs {
		m.pmegs[i] = make([]PTE, pages)
	}
	for i := range m.lines {
		m.lines[i] = line{valid: true, ctx: i % g.NumContexts, vaddr: hostarch.Addr(i * g.LineSize)}
	}
	return m, nil
}

// Geometry implements Hardware.Geometry.
func (m *Machine) Geometry() Geometry {
	return m.geo
}

// Context implements Hardware.Context.
func (m *Machine) Context() int {
	return m.ctx
}

// SetContext implements Hardware.SetContext.
func (m *Machine) SetContext(ctx int) {
	if ctx < 0 || ctx >= m.geo.NumContexts {
		panic(fmt.Sprintf("context %d out of range [0, %d)", ctx, m.geo.NumContexts))
	}
	m.ctx = ctx
	m.counters.ContextLoads++
}

// Segmap implements Hardware.Segmap.
func (m *Machine) Segmap(addr hostarch.Addr) PMEG {
	return m.SegmapIn(m.ctx, addr)
}

// SegmapIn returns the PMEG mapped at addr in context ctx, without touching
// the context register.
func (m *Machine) SegmapIn(ctx int, addr hostarch.Addr) PMEG {
	if pmeg, ok := m.segmaps[ctx][m.geo.Segment.Number(addr)]; ok {
		return pmeg
	}
	return m.geo.InvalidPMEG()
}

// PutSegmap implements Hardware.PutSegmap.
func (m *Machine) PutSegmap(addr hostarch.Addr, pmeg PMEG) {
	if int(pmeg) >= m.geo.NumSegmaps {
		panic(fmt.Sprintf("PMEG %d out of range [0, %d)", pmeg, m.geo.NumSegmaps))
	}
	m.counters.SegmapWrites++
	seg := m.geo.Segment.Number(addr)
	if pmeg == m.geo.InvalidPMEG() {
		delete(m.segmaps[m.ctx], seg)
		return
	}
	m.segmaps[m.ctx][seg] = pmeg
}

// PTE implements Hardware.PTE.
func (m *Machine) PTE(addr hostarch.Addr) PTE {
	pmeg := m.Segmap(addr)
	if pmeg == m.geo.InvalidPMEG() {
		return 0
	}
	return m.pmegs[pmeg][m.geo.Segment.PageIndex(addr)]
}

// PutPTE implements Hardware.PutPTE.
func (m *Machine) PutPTE(addr hostarch.Addr, pte PTE) {
	pmeg := m.Segmap(addr)
	if pmeg == m.geo.InvalidPMEG() {
		return
	}
	m.counters.PTEWrites++
	m.pmegs[pmeg][m.geo.Segment.PageIndex(addr)] = pte
}

// PMEGEntries returns a copy of the page table entries held by pmeg.
func (m *Machine) PMEGEntries(pmeg PMEG) []PTE {
	return append([]PTE(nil), m.pmegs[pmeg]...)
}

// MappedSegments returns the number of valid segment map entries in ctx.
func (m *Machine) MappedSegments(ctx int) int {
	return len(m.segmaps[ctx])
}

// Counters returns a snapshot of the operation counters.
func (m *Machine) Counters() Counters {
	return m.counters
}

// ResetCounters zeroes the operation counters.
func (m *Machine) ResetCounters() {
	m.counters = Counters{}
}
