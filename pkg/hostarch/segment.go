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

package hostarch

import "fmt"

// DefaultSegmentShift is the binary log of the sun4c segment size: one
// segment map entry covers 64 pages (256K).
const DefaultSegmentShift = 18

// SegmentLayout describes how the address space is carved into segments,
// the unit mapped by one segment map entry.
type SegmentLayout struct {
	// Shift is the binary log of the segment size. It must be at least
	// PageShift.
	Shift uint
}

// Validate returns an error if the layout cannot describe a segment.
func (l SegmentLayout) Validate() error {
	if l.Shift < PageShift || l.Shift >= 32 {
		return fmt.Errorf("segment shift %d out of range [%d, 32)", l.Shift, PageShift)
	}
	return nil
}

// Size returns the segment size in bytes.
func (l SegmentLayout) Size() uint32 {
	return 1 << l.Shift
}

// Pages returns the number of pages in a segment.
func (l SegmentLayout) Pages() int {
	return 1 << (l.Shift - PageShift)
}

// RoundDown returns addr rounded down to its segment base.
func (l SegmentLayout) RoundDown(addr Addr) Addr {
	return addr &^ Addr(l.Size()-1)
}

// PageIndex returns the index of the page containing addr within its
// segment.
func (l SegmentLayout) PageIndex(addr Addr) int {
	return int((uint32(addr) & (l.Size() - 1)) >> PageShift)
}

// Number returns the segment number of addr.
func (l SegmentLayout) Number(addr Addr) uint32 {
	return uint32(addr) >> l.Shift
}

// End returns the exclusive end of the segment based at base. ok is false if
// the segment is the last one in the address space, in which case end is 0.
func (l SegmentLayout) End(base Addr) (end Addr, ok bool) {
	return base.AddLength(l.Size())
}
