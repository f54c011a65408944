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
	"gvisor.dev/sun4c/pkg/ring"
)

// kernelStrategyLocked returns an entry for a new kernel mapping. The entry
// is left at the front of the kernel free ring; the caller unlinks it.
//
// If the kernel free ring is empty, the oldest kernel mapping is evicted.
// The kernel side always owns at least KernelRingSeed entries, so this
// cannot fail.
//
// Precondition: m.mu must be locked.
func (m *Manager) kernelStrategyLocked() ring.Handle {
	if m.kfree.Empty() {
		h := m.kernel.Back()
		if h == ring.Nil {
			panic("sun4c: kernel strategy found no kernel segments")
		}
		m.events.KernelSteals++
		m.debug.Debugf("sun4c: stealing kernel segment %v", m.entries[h].vaddr)
		m.evictKernelLocked(h)
	}
	return m.kfree.Front()
}

// userStrategyLocked returns an unlinked entry for a new user mapping.
//
// Entries come from the user free ring, else back from the kernel if it
// holds borrowed entries, else by evicting the least recently used user
// mapping of any context.
//
// Precondition: m.mu must be locked.
func (m *Manager) userStrategyLocked() ring.Handle {
	if h := m.ufree.Front(); h != ring.Nil {
		m.removeRingLocked(m.ufree, h)
		return h
	}
	if m.userTaken > 0 {
		h := m.kernelStrategyLocked()
		m.removeRingLocked(m.kfree, h)
		m.userTaken--
		m.events.KernelReclaims++
		return h
	}
	h := m.ulru.Front()
	if h == ring.Nil {
		panic("sun4c: user strategy found no user segments")
	}
	e := &m.entries[h]
	m.events.UserSteals++
	m.debug.Debugf("sun4c: stealing user segment %v from context %d", e.vaddr, e.ctx)
	saved := m.switchContextLocked(e.ctx)
	m.evictUserLocked(h)
	m.restoreContextLocked(saved)
	m.removeRingLocked(m.ufree, h)
	return h
}

// GrowKernelRing lends one user free entry to the kernel. It returns false
// if the kernel has already borrowed as many entries as it may, or if no
// user entry is free.
func (m *Manager) GrowKernelRing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.growKernelRingLocked()
}

// growKernelRingLocked implements GrowKernelRing.
//
// Precondition: m.mu must be locked.
func (m *Manager) growKernelRingLocked() bool {
	if m.userTaken >= m.maxUserTaken {
		m.events.GrowRefusals++
		m.debug.Debugf("sun4c: kernel ring growth refused, %d of %d borrowed", m.userTaken, m.maxUserTaken)
		return false
	}
	h := m.ufree.Front()
	if h == ring.Nil {
		return false
	}
	m.removeRingLocked(m.ufree, h)
	m.addRingLocked(m.kfree, h, ownKernelFree)
	m.userTaken++
	m.events.KernelGrows++
	return true
}
