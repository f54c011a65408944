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

// Package mmuhw models the sun4c MMU and virtual address cache as seen by
// the kernel: per-context segment maps, page segments (PMEGs) of page table
// entries, the context register, and a direct-mapped, virtually indexed and
// virtually tagged write-through cache.
//
// The model is register-level. It performs no allocation policy of its own;
// package sun4c drives it.
package mmuhw

import (
	"fmt"
	"strings"

	"gvisor.dev/sun4c/pkg/hostarch"
)

// PTE is a hardware page table entry.
type PTE uint32

// PTE bits.
const (
	PTEValid   PTE = 0x80000000
	PTEWrite   PTE = 0x40000000
	PTEPriv    PTE = 0x20000000
	PTENoCache PTE = 0x10000000
	PTETypeIO  PTE = 0x04000000
	PTERef     PTE = 0x02000000
	PTEDirty   PTE = 0x01000000

	// PTEPFNMask selects the physical frame number.
	PTEPFNMask PTE = 0x0000ffff
)

// MakePTE returns a valid PTE mapping physical frame pfn.
func MakePTE(pfn uint32, write, priv bool, mt hostarch.MemoryType) PTE {
	pte := PTEValid | (PTE(pfn) & PTEPFNMask)
	if write {
		pte |= PTEWrite
	}
	if priv {
		pte |= PTEPriv
	}
	if mt == hostarch.MemoryTypeUncached {
		pte |= PTENoCache
	}
	return pte
}

// Valid returns true if the entry maps a page.
func (p PTE) Valid() bool {
	return p&PTEValid != 0
}

// Cacheable returns true if the page may be held in the cache.
func (p PTE) Cacheable() bool {
	return p&PTENoCache == 0
}

// Writable returns true if stores are permitted.
func (p PTE) Writable() bool {
	return p&PTEWrite != 0
}

// Privileged returns true if only supervisor accesses are permitted.
func (p PTE) Privileged() bool {
	return p&PTEPriv != 0
}

// PFN returns the physical frame number.
func (p PTE) PFN() uint32 {
	return uint32(p & PTEPFNMask)
}

// PhysAddr returns the physical address of the mapped frame.
func (p PTE) PhysAddr() uint32 {
	return p.PFN() << hostarch.PageShift
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	if !p.Valid() {
		return fmt.Sprintf("pte(%#08x invalid)", uint32(p))
	}
	var flags []string
	for _, f := range []struct {
		bit  PTE
		name string
	}{
		{PTEWrite, "w"},
		{PTEPriv, "priv"},
		{PTENoCache, "nc"},
		{PTETypeIO, "io"},
		{PTERef, "ref"},
		{PTEDirty, "dirty"},
	} {
		if p&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("pte(pfn %#x %s)", p.PFN(), strings.Join(flags, ","))
}

// PMEG names a page segment: one physical slot of the segment map, holding
// the page table entries for one segment.
type PMEG uint16
