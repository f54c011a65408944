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

package vac

import (
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
)

// Flusher invalidates cache lines at context, segment or page granularity.
// All operations act on the current context.
type Flusher interface {
	// FlushContext invalidates every user line of the current context.
	FlushContext()

	// FlushSegment invalidates the lines of the segment containing addr.
	// It does nothing if the segment is not mapped.
	FlushSegment(addr hostarch.Addr)

	// FlushPage invalidates the lines of the page containing addr. It does
	// nothing unless the page is validly mapped and cacheable.
	FlushPage(addr hostarch.Addr)

	// HW returns true if the flusher uses hardware-assisted flushes.
	HW() bool
}

// NewFlusher returns the Flusher for info.
func NewFlusher(hw mmuhw.Hardware, info Info) Flusher {
	b := base{
		hw:       hw,
		info:     info,
		segment:  hw.Geometry().Segment,
		invalid:  hw.Geometry().InvalidPMEG(),
		segBytes: int(hw.Geometry().Segment.Size()),
	}
	if b.segBytes > info.Size {
		b.segBytes = info.Size
	}
	if info.HWFlushes {
		return &hwFlusher{b}
	}
	return &swFlusher{b}
}

type base struct {
	hw      mmuhw.Hardware
	info    Info
	segment hostarch.SegmentLayout
	invalid mmuhw.PMEG

	// segBytes is the span of a segment flush: a segment, clamped to the
	// cache size.
	segBytes int
}

func (b *base) mapped(addr hostarch.Addr) bool {
	return b.hw.Segmap(addr) != b.invalid
}

func (b *base) cachedPage(addr hostarch.Addr) bool {
	if !b.mapped(addr) {
		return false
	}
	pte := b.hw.PTE(addr)
	return pte.Valid() && pte.Cacheable()
}

// swFlusher issues one flush store per line.
type swFlusher struct {
	base
}

func (f *swFlusher) loop(op mmuhw.CacheOp, start hostarch.Addr, n int) {
	for off := 0; off < n; off += f.info.LineSize {
		f.hw.FlushLine(op, start+hostarch.Addr(off))
	}
}

func (f *swFlusher) FlushContext() {
	f.loop(mmuhw.FlushContext, 0, f.info.Size)
}

func (f *swFlusher) FlushSegment(addr hostarch.Addr) {
	if !f.mapped(addr) {
		return
	}
	f.loop(mmuhw.FlushSegment, f.segment.RoundDown(addr), f.segBytes)
}

func (f *swFlusher) FlushPage(addr hostarch.Addr) {
	if !f.cachedPage(addr) {
		return
	}
	f.loop(mmuhw.FlushPage, addr.RoundDown(), hostarch.PageSize)
}

func (*swFlusher) HW() bool { return false }

// hwFlusher issues one flush store per page-sized chunk of lines.
type hwFlusher struct {
	base
}

func (f *hwFlusher) loop(op mmuhw.CacheOp, start hostarch.Addr, n int) {
	for off := 0; off < n; off += hostarch.PageSize {
		f.hw.FlushChunk(op, start+hostarch.Addr(off))
	}
}

func (f *hwFlusher) FlushContext() {
	f.loop(mmuhw.FlushContext, 0, f.info.Size)
}

func (f *hwFlusher) FlushSegment(addr hostarch.Addr) {
	if !f.mapped(addr) {
		return
	}
	f.loop(mmuhw.FlushSegment, f.segment.RoundDown(addr), f.segBytes)
}

func (f *hwFlusher) FlushPage(addr hostarch.Addr) {
	if !f.cachedPage(addr) {
		return
	}
	f.hw.FlushChunk(mmuhw.FlushPage, addr.RoundDown())
}

func (*hwFlusher) HW() bool { return true }
