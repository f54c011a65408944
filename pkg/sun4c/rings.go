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

	"gvisor.dev/sun4c/pkg/ring"
)

// addRingLocked pushes h onto the front of r, an ownership ring of kind o.
//
// Precondition: m.mu must be locked. h is on no ownership ring.
func (m *Manager) addRingLocked(r *ring.Ring, h ring.Handle, o ownership) {
	if e := &m.entries[h]; e.owner != ownNone {
		panic(fmt.Sprintf("sun4c: adding %v to %v ring", e, o))
	}
	r.PushFront(h)
	m.entries[h].owner = o
}

// removeRingLocked unlinks h from its ownership ring r.
//
// Precondition: m.mu must be locked.
func (m *Manager) removeRingLocked(r *ring.Ring, h ring.Handle) {
	r.Remove(h)
	m.entries[h].owner = ownNone
}

// addLRULocked makes h the most recently used user entry.
//
// Precondition: m.mu must be locked.
func (m *Manager) addLRULocked(h ring.Handle) {
	m.ulru.PushBack(h)
}

// removeLRULocked unlinks h from the LRU ring.
//
// Precondition: m.mu must be locked.
func (m *Manager) removeLRULocked(h ring.Handle) {
	m.ulru.Remove(h)
}

// addUserLocked inserts h into the ring of context ctx, keeping it sorted by
// virtual address, and onto the LRU ring.
//
// Precondition: m.mu must be locked. m.entries[h].vaddr is set.
func (m *Manager) addUserLocked(ctx int, h ring.Handle) {
	e := &m.entries[h]
	if e.owner != ownNone {
		panic(fmt.Sprintf("sun4c: adding %v to context %d", e, ctx))
	}
	r := m.ctxRings[ctx]
	mark := r.Front()
	for mark != ring.Nil && m.entries[mark].vaddr < e.vaddr {
		mark = r.Next(mark)
	}
	r.InsertBefore(mark, h)
	e.ctx = ctx
	e.owner = ownContext
	m.addLRULocked(h)
}

// removeUserLocked unlinks the user entry h from its context ring and the
// LRU ring.
//
// Precondition: m.mu must be locked.
func (m *Manager) removeUserLocked(h ring.Handle) {
	e := &m.entries[h]
	m.removeRingLocked(m.ctxRings[e.ctx], h)
	m.removeLRULocked(h)
	e.ctx = NoContext
}

// freeUserLocked moves the user entry h to the user free ring. Its segment
// must already be flushed and unmapped.
//
// Precondition: m.mu must be locked.
func (m *Manager) freeUserLocked(h ring.Handle) {
	m.removeUserLocked(h)
	m.addRingLocked(m.ufree, h, ownUserFree)
}

// freeKernelLocked moves the kernel entry h to the kernel free ring. Its
// segment must already be flushed and unmapped.
//
// Precondition: m.mu must be locked.
func (m *Manager) freeKernelLocked(h ring.Handle) {
	m.removeRingLocked(m.kernel, h)
	m.addRingLocked(m.kfree, h, ownKernelFree)
}

// evictKernelLocked flushes and unmaps the kernel entry h and frees it.
//
// Precondition: m.mu must be locked.
func (m *Manager) evictKernelLocked(h ring.Handle) {
	e := &m.entries[h]
	m.flusher.FlushSegment(e.vaddr)
	m.unmapAllContextsLocked(e.vaddr)
	m.freeKernelLocked(h)
}

// evictUserLocked flushes and unmaps the user entry h and frees it. The
// context register must hold the entry's context.
//
// Precondition: m.mu must be locked.
func (m *Manager) evictUserLocked(h ring.Handle) {
	e := &m.entries[h]
	m.flusher.FlushSegment(e.vaddr)
	m.hw.PutSegmap(e.vaddr, m.invalid)
	m.freeUserLocked(h)
}
