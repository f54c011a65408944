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

// Package pgtable provides the in-memory page table of an address space.
//
// The table records the translation of every present page, independently of
// whether the MMU currently maps it. It is ordered by address so that ranges
// can be walked and torn down.
package pgtable

import (
	"github.com/google/btree"
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
)

// degree is the B-tree degree.
const degree = 16

type item struct {
	addr hostarch.Addr
	pte  mmuhw.PTE
}

func less(a, b item) bool {
	return a.addr < b.addr
}

// Table maps page addresses to PTEs.
//
// Table is not thread-safe.
type Table struct {
	tree *btree.BTreeG[item]
}

// New returns an empty table.
func New() *Table {
	return &Table{tree: btree.NewG[item](degree, less)}
}

// Len returns the number of present pages.
func (t *Table) Len() int {
	return t.tree.Len()
}

// Set records pte for the page containing addr, returning the previous
// entry if there was one.
func (t *Table) Set(addr hostarch.Addr, pte mmuhw.PTE) (mmuhw.PTE, bool) {
	old, ok := t.tree.ReplaceOrInsert(item{addr: addr.RoundDown(), pte: pte})
	return old.pte, ok
}

// Lookup returns the PTE of the page containing addr.
func (t *Table) Lookup(addr hostarch.Addr) (mmuhw.PTE, bool) {
	it, ok := t.tree.Get(item{addr: addr.RoundDown()})
	return it.pte, ok
}

// Update applies fn to the PTE of the page containing addr, if present.
func (t *Table) Update(addr hostarch.Addr, fn func(mmuhw.PTE) mmuhw.PTE) bool {
	key := item{addr: addr.RoundDown()}
	it, ok := t.tree.Get(key)
	if !ok {
		return false
	}
	it.pte = fn(it.pte)
	t.tree.ReplaceOrInsert(it)
	return true
}

// Clear removes the page containing addr, returning its PTE.
func (t *Table) Clear(addr hostarch.Addr) (mmuhw.PTE, bool) {
	it, ok := t.tree.Delete(item{addr: addr.RoundDown()})
	return it.pte, ok
}

// Range calls fn for every present page in ar in ascending order, until fn
// returns false.
func (t *Table) Range(ar hostarch.AddrRange, fn func(addr hostarch.Addr, pte mmuhw.PTE) bool) {
	visit := func(it item) bool {
		return fn(it.addr, it.pte)
	}
	if ar.End == 0 {
		// The range extends to the top of the address space.
		t.tree.AscendGreaterOrEqual(item{addr: ar.Start}, visit)
		return
	}
	t.tree.AscendRange(item{addr: ar.Start}, item{addr: ar.End}, visit)
}

// ClearRange removes every page in ar and returns the removed PTEs in
// ascending address order.
func (t *Table) ClearRange(ar hostarch.AddrRange) []mmuhw.PTE {
	var addrs []hostarch.Addr
	var ptes []mmuhw.PTE
	t.Range(ar, func(addr hostarch.Addr, pte mmuhw.PTE) bool {
		addrs = append(addrs, addr)
		ptes = append(ptes, pte)
		return true
	})
	for _, addr := range addrs {
		t.tree.Delete(item{addr: addr})
	}
	return ptes
}
