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

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/ring"
)

// UpdateMMUCache installs pte for the user page at addr in ms, which must
// hold a context.
//
// If the segment containing addr is already mapped, its entry becomes the
// most recently used and only the PTE is written. Otherwise an entry is
// obtained from the user strategy and mapped, and every page of the segment
// is seeded: with its translation from the space's page table if preloading
// is enabled and one is present, else with an invalid PTE.
func (m *Manager) UpdateMMUCache(ms *MemorySpace, addr hostarch.Addr, pte mmuhw.PTE) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.context == NoContext {
		panic(fmt.Sprintf("sun4c: fault at %v in %s without a context", addr, ms.name))
	}
	if addr >= m.cfg.KernelBase {
		panic(fmt.Sprintf("sun4c: user fault at kernel address %v", addr))
	}
	saved := m.switchContextLocked(ms.context)
	defer m.restoreContextLocked(saved)

	addr = addr.RoundDown()
	base := m.geo.Segment.RoundDown(addr)
	if pmeg := m.hw.Segmap(base); pmeg != m.invalid {
		h := handle(pmeg)
		if e := &m.entries[h]; e.owner != ownContext || e.ctx != ms.context || e.vaddr != base {
			panic(fmt.Sprintf("sun4c: %v mapped at %v in context %d", e, base, ms.context))
		}
		m.removeLRULocked(h)
		m.addLRULocked(h)
		m.hw.PutPTE(addr, pte)
		m.events.PageFills++
		return
	}

	h := m.userStrategyLocked()
	e := &m.entries[h]
	e.vaddr = base
	m.addUserLocked(ms.context, h)
	m.hw.PutSegmap(base, e.pseg)
	m.fillSegmentLocked(ms, base)
	m.hw.PutPTE(addr, pte)
	m.events.SegmentFills++
}

// fillSegmentLocked seeds every PTE of the freshly mapped segment at base.
//
// Precondition: m.mu must be locked.
func (m *Manager) fillSegmentLocked(ms *MemorySpace, base hostarch.Addr) {
	for p := 0; p < m.geo.Segment.Pages(); p++ {
		addr := base + hostarch.Addr(p*hostarch.PageSize)
		var pte mmuhw.PTE
		if m.cfg.Preload && ms.pt != nil {
			if v, ok := ms.pt.Lookup(addr); ok && v.Valid() {
				pte = v
				m.events.Preloads++
			}
		}
		m.hw.PutPTE(addr, pte)
	}
}

// HandleKernelFault installs pte for the kernel page at addr. Kernel
// segments are mapped in every context. pte must be privileged if valid.
func (m *Manager) HandleKernelFault(addr hostarch.Addr, pte mmuhw.PTE) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < m.cfg.KernelBase {
		panic(fmt.Sprintf("sun4c: kernel fault at user address %v", addr))
	}
	if pte.Valid() && !pte.Privileged() {
		panic(fmt.Sprintf("sun4c: unprivileged kernel %v at %v", pte, addr))
	}
	base := m.geo.Segment.RoundDown(addr)
	if m.hw.Segmap(base) == m.invalid {
		m.mapKernelLocked(base)
	}
	m.hw.PutPTE(addr.RoundDown(), pte)
}

// mapKernelLocked maps a new kernel segment at base with every page invalid.
//
// Precondition: m.mu must be locked.
func (m *Manager) mapKernelLocked(base hostarch.Addr) ring.Handle {
	h := m.kernelStrategyLocked()
	m.removeRingLocked(m.kfree, h)
	e := &m.entries[h]
	e.vaddr = base
	m.addRingLocked(m.kernel, h, ownKernel)
	m.mapAllContextsLocked(base, e.pseg)
	m.clearSegmentLocked(base)
	m.events.KernelFills++
	return h
}
