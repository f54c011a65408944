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

// Package vac drives the sun4c virtual address cache.
//
// The cache is virtually indexed and virtually tagged, so it must be flushed
// whenever a translation it may hold is changed. Flushes are issued as stores
// to a flush address space; machines that support hardware-assisted flushing
// invalidate a page worth of lines per store, the rest one line per store.
// The variant is picked once, when the Flusher is created.
package vac

import (
	"errors"
	"fmt"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/mmuhw"
)

var (
	// ErrBadLineSize is returned for a cache line size other than 16 or 32.
	ErrBadLineSize = errors.New("unsupported cache line size")

	// ErrBadCacheSize is returned for a cache size that is not a power of
	// two multiple of the page size.
	ErrBadCacheSize = errors.New("unsupported cache size")
)

// Info describes the cache, as probed from the PROM.
type Info struct {
	// Size is the cache size in bytes.
	Size int

	// LineSize is the line size in bytes.
	LineSize int

	// HWFlushes is true if the cache supports hardware-assisted flushes.
	HWFlushes bool
}

// InfoFor returns the Info describing g's cache.
func InfoFor(g mmuhw.Geometry, hwFlushes bool) Info {
	return Info{Size: g.CacheSize, LineSize: g.LineSize, HWFlushes: hwFlushes}
}

// Validate returns an error if the cache cannot be driven.
func (i Info) Validate() error {
	switch i.LineSize {
	case 16, 32:
	default:
		return fmt.Errorf("%w: %d", ErrBadLineSize, i.LineSize)
	}
	if i.Size < hostarch.PageSize || i.Size%hostarch.PageSize != 0 || i.Size&(i.Size-1) != 0 {
		return fmt.Errorf("%w: %d", ErrBadCacheSize, i.Size)
	}
	return nil
}

// String implements fmt.Stringer.String.
func (i Info) String() string {
	kind := "sw"
	if i.HWFlushes {
		kind = "hw"
	}
	return fmt.Sprintf("%dK %d-byte lines, %s flushes", i.Size>>10, i.LineSize, kind)
}

// FlushAll invalidates every line of the cache by clearing its tag.
//
// Precondition: the cache must be disabled. FlushAll panics otherwise.
func FlushAll(hw mmuhw.Hardware, info Info) {
	if hw.CacheEnabled() {
		panic("vac: FlushAll called with the cache enabled")
	}
	for off := 0; off < info.Size; off += info.LineSize {
		hw.ClearTag(hostarch.Addr(off))
	}
}

// FlushCacheAll reads a cache-sized window starting at base, displacing
// whatever the cache held. It is a passive flush: lines are replaced, not
// invalidated, so it is only useful when base maps ordinary memory.
func FlushCacheAll(hw mmuhw.Hardware, info Info, base hostarch.Addr) {
	for off := 0; off < info.Size; off += info.LineSize {
		hw.Load(base + hostarch.Addr(off))
	}
}
