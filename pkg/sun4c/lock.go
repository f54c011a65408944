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
	"errors"
	"fmt"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/ring"
)

var (
	// ErrAlreadyLocked is returned by LockRange for a segment that is
	// already locked.
	ErrAlreadyLocked = errors.New("segment already locked")

	// ErrNotLocked is returned by UnlockRange for a segment not locked by
	// LockRange.
	ErrNotLocked = errors.New("segment not locked")

	// ErrLockBudget is returned by LockRange when locking would leave the
	// kernel unable to borrow user segments.
	ErrLockBudget = errors.New("no lockable segments left")

	// ErrBadRange is returned for a range that is empty, wraps, or is not
	// in the kernel's address space.
	ErrBadRange = errors.New("invalid kernel range")
)

// segments returns the base of every segment overlapping
// [start, start+length).
//
// Precondition: m.mu must be locked.
func (m *Manager) segments(start hostarch.Addr, length uint32) ([]hostarch.Addr, error) {
	end, ok := start.AddLength(length)
	if length == 0 || (!ok && end != 0) || start < m.cfg.KernelBase {
		return nil, fmt.Errorf("%w: [%v, +%#x)", ErrBadRange, start, length)
	}
	var segs []hostarch.Addr
	for base := m.geo.Segment.RoundDown(start); ; {
		segs = append(segs, base)
		next, ok := m.geo.Segment.End(base)
		if !ok || (end != 0 && next >= end) {
			return segs, nil
		}
		base = next
	}
}

// LockRange maps the kernel range [start, start+length) with segments that
// are never evicted, for memory that must stay mapped such as DMA buffers.
// Each segment is mapped in every context with invalid PTEs; the caller
// installs translations with HandleKernelFault.
//
// Every locked segment lowers the number of user segments the kernel may
// borrow by one. LockRange fails without side effects if any segment is
// already locked or the borrowing ceiling would become negative.
func (m *Manager) LockRange(start hostarch.Addr, length uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	segs, err := m.segments(start, length)
	if err != nil {
		return err
	}
	for _, base := range segs {
		if pmeg := m.hw.Segmap(base); pmeg != m.invalid && m.entries[pmeg].locked {
			return fmt.Errorf("%w: %v", ErrAlreadyLocked, base)
		}
	}
	if len(segs) > m.maxUserTaken {
		return fmt.Errorf("%w: %d segments requested, %d lockable", ErrLockBudget, len(segs), m.maxUserTaken)
	}
	for _, base := range segs {
		m.lockSegmentLocked(base)
	}
	return nil
}

// lockSegmentLocked locks a new entry at base.
//
// Precondition: m.mu must be locked. m.maxUserTaken > 0.
func (m *Manager) lockSegmentLocked(base hostarch.Addr) {
	// A kernel mapping of the segment is replaced rather than locked in
	// place, so that it stays accounted to the kernel side.
	if pmeg := m.hw.Segmap(base); pmeg != m.invalid {
		m.evictKernelLocked(handle(pmeg))
	}

	var h ring.Handle
	if m.userTaken > 0 && m.userTaken >= m.maxUserTaken {
		// Keep userTaken <= maxUserTaken once the ceiling drops.
		h = m.kernelStrategyLocked()
		m.removeRingLocked(m.kfree, h)
		m.userTaken--
		m.events.KernelReclaims++
	} else {
		h = m.userStrategyLocked()
	}
	e := &m.entries[h]
	e.vaddr = base
	e.locked = true
	m.addRingLocked(m.locked, h, ownLocked)
	m.mapAllContextsLocked(base, e.pseg)
	m.clearSegmentLocked(base)
	m.maxUserTaken--
	m.lockedRanges++
}

// UnlockRange releases segments locked by LockRange over
// [start, start+length), returning them to the user free ring. It fails
// without side effects if any segment was not locked by LockRange.
func (m *Manager) UnlockRange(start hostarch.Addr, length uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	segs, err := m.segments(start, length)
	if err != nil {
		return err
	}
	for _, base := range segs {
		pmeg := m.hw.Segmap(base)
		if pmeg == m.invalid {
			return fmt.Errorf("%w: %v", ErrNotLocked, base)
		}
		if e := &m.entries[pmeg]; !e.locked || e.boot {
			return fmt.Errorf("%w: %v", ErrNotLocked, base)
		}
	}
	for _, base := range segs {
		h := handle(m.hw.Segmap(base))
		e := &m.entries[h]
		m.flusher.FlushSegment(base)
		m.unmapAllContextsLocked(base)
		m.removeRingLocked(m.locked, h)
		e.locked = false
		m.addRingLocked(m.ufree, h, ownUserFree)
		m.maxUserTaken++
		m.lockedRanges--
	}
	return nil
}
