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

// NoContext is the context of a space that holds none.
const NoContext = -1

// PageTable is a space's in-memory page table, consulted when preloading a
// segment.
type PageTable interface {
	// Lookup returns the translation of the page at addr, if present.
	Lookup(addr hostarch.Addr) (mmuhw.PTE, bool)
}

// MemorySpace is a user address space.
//
// Its context is assigned by Manager.SwitchMM and may be taken away by the
// manager at any time; it is protected by the manager's lock.
type MemorySpace struct {
	name    string
	pt      PageTable
	context int
}

// NewMemorySpace returns a space without a context. pt may be nil.
func NewMemorySpace(name string, pt PageTable) *MemorySpace {
	return &MemorySpace{name: name, pt: pt, context: NoContext}
}

// Name returns the space name.
func (ms *MemorySpace) Name() string {
	return ms.name
}

// String implements fmt.Stringer.String.
func (ms *MemorySpace) String() string {
	return fmt.Sprintf("%s[ctx %d]", ms.name, ms.context)
}

// Context returns the hardware context held by ms, or NoContext.
func (m *Manager) Context(ms *MemorySpace) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ms.context
}

// CurrentContext returns the live context register.
func (m *Manager) CurrentContext() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hw.Context()
}

// SwitchMM switches the MMU to next. old is the space being switched away
// from and may be nil.
//
// If next has no context it is given a free one, or the least recently used
// context is taken from its owner. The context of old is only taken if it is
// the only one in use.
func (m *Manager) SwitchMM(old, next *MemorySpace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next.context == NoContext {
		m.allocContextLocked(old, next)
	} else {
		h := ring.Handle(next.context)
		m.ctxUsed.Remove(h)
		m.ctxUsed.PushFront(h)
	}
	if m.hw.Context() != next.context {
		m.hw.SetContext(next.context)
	}
}

// allocContextLocked assigns a context to ms.
//
// Precondition: m.mu must be locked. ms has no context.
func (m *Manager) allocContextLocked(old, ms *MemorySpace) {
	h := m.ctxFree.Front()
	if h != ring.Nil {
		m.ctxFree.Remove(h)
	} else {
		h = m.ctxUsed.Back()
		if old != nil && old.context == int(h) {
			if p := m.ctxUsed.Prev(h); p != ring.Nil {
				h = p
			}
		}
		victim := m.contexts[h].owner
		m.ctxUsed.Remove(h)
		m.demapContextLocked(int(h))
		victim.context = NoContext
		m.events.ContextSteals++
		m.debug.Debugf("sun4c: context %d stolen from %s for %s", h, victim.name, ms.name)
	}
	m.contexts[h].owner = ms
	ms.context = int(h)
	m.ctxUsed.PushFront(h)
}

// demapContextLocked flushes context ctx from the cache and returns every
// user entry mapped in it to the user free ring.
//
// Precondition: m.mu must be locked.
func (m *Manager) demapContextLocked(ctx int) {
	r := m.ctxRings[ctx]
	if r.Empty() {
		return
	}
	saved := m.switchContextLocked(ctx)
	m.flusher.FlushContext()
	for h := r.Front(); h != ring.Nil; h = r.Front() {
		m.hw.PutSegmap(m.entries[h].vaddr, m.invalid)
		m.freeUserLocked(h)
	}
	m.restoreContextLocked(saved)
	m.events.ContextDemaps++
}

// DestroyContext releases the context of ms, which is being torn down.
func (m *Manager) DestroyContext(ms *MemorySpace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.context == NoContext {
		return
	}
	h := ring.Handle(ms.context)
	m.demapContextLocked(ms.context)
	m.ctxUsed.Remove(h)
	m.ctxFree.PushFront(h)
	m.contexts[h].owner = nil
	ms.context = NoContext
}
