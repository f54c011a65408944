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
	"errors"
	"testing"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
)

func testMachine(t *testing.T) *mmuhw.Machine {
	t.Helper()
	m, err := mmuhw.NewMachine(mmuhw.Geometry{
		NumContexts: 2,
		NumSegmaps:  4,
		Segment:     hostarch.SegmentLayout{Shift: 15},
		CacheSize:   16384,
		LineSize:    16,
	})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	FlushAll(m, InfoFor(m.Geometry(), false))
	m.ResetCounters()
	return m
}

func TestInfoValidate(t *testing.T) {
	for _, tc := range []struct {
		info Info
		want error
	}{
		{Info{Size: 65536, LineSize: 16}, nil},
		{Info{Size: 65536, LineSize: 32, HWFlushes: true}, nil},
		{Info{Size: 65536, LineSize: 64}, ErrBadLineSize},
		{Info{Size: 65536, LineSize: 8}, ErrBadLineSize},
		{Info{Size: 2048, LineSize: 16}, ErrBadCacheSize},
		{Info{Size: 3 * 4096, LineSize: 16}, ErrBadCacheSize},
	} {
		if err := tc.info.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%v.Validate() = %v, want %v", tc.info, err, tc.want)
		}
	}
}

func TestFlushAllRequiresDisabledCache(t *testing.T) {
	m := testMachine(t)
	m.SetCacheEnabled(true)
	defer func() {
		if recover() == nil {
			t.Errorf("FlushAll with the cache enabled did not panic")
		}
	}()
	FlushAll(m, InfoFor(m.Geometry(), false))
}

func TestFlushAllClearsBootGarbage(t *testing.T) {
	m, err := mmuhw.NewMachine(mmuhw.Geometry{
		NumContexts: 2,
		NumSegmaps:  4,
		Segment:     hostarch.SegmentLayout{Shift: 15},
		CacheSize:   16384,
		LineSize:    16,
	})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	if m.ValidLines() == 0 {
		t.Fatalf("machine powered up with a clean cache")
	}
	FlushAll(m, InfoFor(m.Geometry(), false))
	if got := m.ValidLines(); got != 0 {
		t.Errorf("ValidLines() after FlushAll = %d, want 0", got)
	}
}

// mapAndCache maps a cached page at 0x8000 in context 0 and reads it.
func mapAndCache(t *testing.T, m *mmuhw.Machine) {
	t.Helper()
	m.SetCacheEnabled(true)
	m.PutSegmap(0x8000, 0)
	m.PutPTE(0x8000, mmuhw.MakePTE(1, true, false, hostarch.MemoryTypeCached))
	m.PutPTE(0x9000, mmuhw.MakePTE(2, true, false, hostarch.MemoryTypeUncached))
	if _, err := m.Access(0x8000, false, true); err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	m.ResetCounters()
}

func TestFlusherStores(t *testing.T) {
	for _, tc := range []struct {
		name   string
		hw     bool
		op     func(Flusher)
		lines  uint64
		chunks uint64
		killed uint64
	}{
		{"sw context", false, func(f Flusher) { f.FlushContext() }, 1024, 0, 1},
		{"hw context", true, func(f Flusher) { f.FlushContext() }, 0, 4, 1},
		{"sw segment", false, func(f Flusher) { f.FlushSegment(0x8000) }, 1024, 0, 1},
		{"hw segment", true, func(f Flusher) { f.FlushSegment(0x8000) }, 0, 4, 1},
		{"sw page", false, func(f Flusher) { f.FlushPage(0x8010) }, 256, 0, 1},
		{"hw page", true, func(f Flusher) { f.FlushPage(0x8010) }, 0, 1, 1},
		{"unmapped segment", false, func(f Flusher) { f.FlushSegment(0x40000) }, 0, 0, 0},
		{"invalid page", true, func(f Flusher) { f.FlushPage(0xa000) }, 0, 0, 0},
		{"uncached page", false, func(f Flusher) { f.FlushPage(0x9000) }, 0, 0, 0},
		{"last byte of page", false, func(f Flusher) { f.FlushPage(0x9000 - 1) }, 256, 0, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := testMachine(t)
			mapAndCache(t, m)
			f := NewFlusher(m, InfoFor(m.Geometry(), tc.hw))
			if f.HW() != tc.hw {
				t.Fatalf("HW() = %t, want %t", f.HW(), tc.hw)
			}
			tc.op(f)
			c := m.Counters()
			if c.LineFlushes != tc.lines || c.ChunkFlushes != tc.chunks || c.LinesInvalidated != tc.killed {
				t.Errorf("counters = %+v, want %d line stores, %d chunk stores, %d lines invalidated", c, tc.lines, tc.chunks, tc.killed)
			}
		})
	}
}

func TestFlushCacheAll(t *testing.T) {
	m := testMachine(t)
	mapAndCache(t, m)
	info := InfoFor(m.Geometry(), false)
	FlushCacheAll(m, info, 0x8000)
	if got, want := m.Counters().Loads, uint64(info.Size/info.LineSize); got != want {
		t.Errorf("Loads = %d, want %d", got, want)
	}
}
