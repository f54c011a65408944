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

// Package ring provides intrusive circular doubly-linked lists over a fixed
// arena of slots.
//
// Slots are named by integer handles rather than pointers. The links of every
// slot live in a Links column owned by the arena, so a slot can be threaded
// through one ring per column. A ring's sentinel head is itself a slot of the
// column, reserved by the caller and never handed out as an element.
//
// Entries can be added to or removed from a Ring in O(1) time and with no
// allocations. To iterate over a ring r:
//
//	for h := r.Front(); h != ring.Nil; h = r.Next(h) {
//		// do something with h.
//	}
package ring

import "fmt"

// Handle names a slot in an arena.
type Handle int32

// Nil is the handle of no slot.
const Nil Handle = -1

// Link holds the ring pointers of one slot.
type Link struct {
	next Handle
	prev Handle
}

// Links is a column of links, one per slot. It must not be resized once
// rings have been created on it.
type Links []Link

// NewLinks returns a column of n unlinked slots.
func NewLinks(n int) Links {
	l := make(Links, n)
	for i := range l {
		l[i] = Link{next: Nil, prev: Nil}
	}
	return l
}

// Linked returns true if slot h is currently linked into some ring of this
// column.
//
//go:nosplit
func (l Links) Linked(h Handle) bool {
	return l[h].next != Nil
}

// NewRing returns an empty ring whose sentinel is slot head.
func (l Links) NewRing(head Handle) *Ring {
	l[head] = Link{next: head, prev: head}
	return &Ring{links: l, head: head}
}

// Ring is a circular doubly-linked list with a sentinel head.
type Ring struct {
	links Links
	head  Handle
	count int
}

// Len returns the number of elements in the ring. It is O(1).
//
//go:nosplit
func (r *Ring) Len() int {
	return r.count
}

// Empty returns true iff the ring is empty.
//
//go:nosplit
func (r *Ring) Empty() bool {
	return r.count == 0
}

// Front returns the first element of the ring, or Nil.
func (r *Ring) Front() Handle {
	return r.Next(r.head)
}

// Back returns the last element of the ring, or Nil.
func (r *Ring) Back() Handle {
	return r.Prev(r.head)
}

// Next returns the element after h, or Nil if h is the last element.
func (r *Ring) Next(h Handle) Handle {
	if n := r.links[h].next; n != r.head {
		return n
	}
	return Nil
}

// Prev returns the element before h, or Nil if h is the first element.
func (r *Ring) Prev(h Handle) Handle {
	if p := r.links[h].prev; p != r.head {
		return p
	}
	return Nil
}

// insertAfter links h between at and its successor.
func (r *Ring) insertAfter(at, h Handle) {
	next := r.links[at].next
	r.links[h] = Link{next: next, prev: at}
	r.links[next].prev = h
	r.links[at].next = h
	r.count++
}

// PushFront inserts h at the front of the ring.
//
// Precondition: h is not linked in any ring of this column.
func (r *Ring) PushFront(h Handle) {
	r.insertAfter(r.head, h)
}

// PushBack inserts h at the back of the ring.
//
// Precondition: h is not linked in any ring of this column.
func (r *Ring) PushBack(h Handle) {
	r.insertAfter(r.links[r.head].prev, h)
}

// InsertBefore inserts h immediately before mark. If mark is Nil, h is
// inserted at the back of the ring.
//
// Preconditions: mark is Nil or an element of r; h is not linked in any ring
// of this column.
func (r *Ring) InsertBefore(mark, h Handle) {
	if mark == Nil {
		mark = r.head
	}
	r.insertAfter(r.links[mark].prev, h)
}

// Remove unlinks h from the ring.
//
// Precondition: h is an element of r. This is not checked.
func (r *Ring) Remove(h Handle) {
	link := r.links[h]
	r.links[link.prev].next = link.next
	r.links[link.next].prev = link.prev
	r.links[h] = Link{next: Nil, prev: Nil}
	r.count--
}

// Contains returns true if h is an element of r. It is O(n), and intended
// for consistency checks.
func (r *Ring) Contains(h Handle) bool {
	for e := r.Front(); e != Nil; e = r.Next(e) {
		if e == h {
			return true
		}
	}
	return false
}

// Validate checks that the ring is well formed: every forward link has a
// matching back link, and the number of reachable elements equals Len.
func (r *Ring) Validate() error {
	n := 0
	prev := r.head
	for h := r.links[r.head].next; h != r.head; h = r.links[h].next {
		if h == Nil {
			return fmt.Errorf("ring %d: element after %d is unlinked", r.head, prev)
		}
		if r.links[h].prev != prev {
			return fmt.Errorf("ring %d: element %d has prev %d, want %d", r.head, h, r.links[h].prev, prev)
		}
		n++
		if n > len(r.links) {
			return fmt.Errorf("ring %d: cycle does not return to head", r.head)
		}
		prev = h
	}
	if r.links[r.head].prev != prev {
		return fmt.Errorf("ring %d: head prev %d, want %d", r.head, r.links[r.head].prev, prev)
	}
	if n != r.count {
		return fmt.Errorf("ring %d: %d reachable elements, count %d", r.head, n, r.count)
	}
	return nil
}
