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
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/ring"
	"gvisor.dev/sun4c/pkg/vac"
)

// FlushCacheMM flushes every mapping of ms from the cache. Since the cache
// cannot be flushed without also dropping the translations, this demaps the
// space's context; ms keeps the context itself.
func (m *Manager) FlushCacheMM(ms *MemorySpace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.context != NoContext {
		m.demapContextLocked(ms.context)
	}
}

// FlushTLBMM drops every translation of ms. It is equivalent to
// FlushCacheMM.
func (m *Manager) FlushTLBMM(ms *MemorySpace) {
	m.FlushCacheMM(ms)
}

// FlushCacheRange flushes [start, end) of ms from the cache. Segments
// overlapping the range by at most RangeFlushPages pages are flushed page by
// page and stay mapped; the others are evicted.
func (m *Manager) FlushCacheRange(ms *MemorySpace, start, end hostarch.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushRangeLocked(ms, start, end, m.cfg.RangeFlushPages)
}

// FlushTLBRange drops every translation of ms in [start, end), evicting the
// overlapping segments.
func (m *Manager) FlushTLBRange(ms *MemorySpace, start, end hostarch.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushRangeLocked(ms, start, end, -1)
}

// flushRangeLocked implements FlushCacheRange and FlushTLBRange. Segments
// overlapping the range by no more than keepPages pages are kept.
//
// Precondition: m.mu must be locked.
func (m *Manager) flushRangeLocked(ms *MemorySpace, start, end hostarch.Addr, keepPages int) {
	if ms.context == NoContext || end <= start {
		return
	}
	r := m.ctxRings[ms.context]
	size := m.geo.Segment.Size()

	// Skip to the first segment that ends after start. Most flushes touch
	// nothing mapped, and those must not load the context register.
	h := r.Front()
	for h != ring.Nil && m.entries[h].vaddr+hostarch.Addr(size) <= start {
		h = r.Next(h)
	}
	if h == ring.Nil || m.entries[h].vaddr >= end {
		return
	}

	want := hostarch.AddrRange{Start: start, End: end}
	saved := m.switchContextLocked(ms.context)
	for h != ring.Nil && m.entries[h].vaddr < end {
		next := r.Next(h)
		e := &m.entries[h]
		ov := hostarch.AddrRange{Start: e.vaddr, End: e.vaddr + hostarch.Addr(size)}.Intersect(want)
		first := ov.Start.RoundDown()
		pages := int((ov.End.MustRoundUp() - first) >> hostarch.PageShift)
		if pages <= keepPages {
			for p := first; p < ov.End; p += hostarch.PageSize {
				m.flusher.FlushPage(p)
			}
			m.events.RangePageFlushes++
		} else {
			m.evictUserLocked(h)
			m.events.RangeEvictions++
		}
		h = next
	}
	m.restoreContextLocked(saved)
}

// FlushCachePage flushes the page at addr of ms from the cache.
func (m *Manager) FlushCachePage(ms *MemorySpace, addr hostarch.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushPageLocked(ms, addr, false)
}

// FlushTLBPage flushes the page at addr of ms from the cache and drops its
// translation.
func (m *Manager) FlushTLBPage(ms *MemorySpace, addr hostarch.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushPageLocked(ms, addr, true)
}

// flushPageLocked implements FlushCachePage and FlushTLBPage.
//
// Precondition: m.mu must be locked.
func (m *Manager) flushPageLocked(ms *MemorySpace, addr hostarch.Addr, tlb bool) {
	if ms.context == NoContext {
		return
	}
	addr = addr.RoundDown()
	saved := m.switchContextLocked(ms.context)
	m.flusher.FlushPage(addr)
	if tlb {
		m.hw.PutPTE(addr, 0)
	}
	m.restoreContextLocked(saved)
}

// FlushTLBAll evicts every kernel mapping that is not locked.
func (m *Manager) FlushTLBAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h := m.kernel.Front(); h != ring.Nil; {
		next := m.kernel.Next(h)
		m.evictKernelLocked(h)
		h = next
	}
}

// FlushCacheAll displaces the whole cache by reading a cache-sized window of
// kernel memory.
func (m *Manager) FlushCacheAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	vac.FlushCacheAll(m.hw, m.vac, m.cfg.KernelBase)
}

// FlushPageToRAM writes the kernel page at addr back and drops it from the
// cache.
func (m *Manager) FlushPageToRAM(addr hostarch.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flusher.FlushPage(addr.RoundDown())
}
