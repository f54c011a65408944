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

package mmuhw

import (
	"errors"
	"fmt"

	"gvisor.dev/sun4c/pkg/hostarch"
)

// ErrBadGeometry is returned for machine geometries that cannot be modeled.
var ErrBadGeometry = errors.New("unsupported MMU geometry")

// Geometry describes the MMU and cache of a machine.
type Geometry struct {
	// NumContexts is the number of hardware contexts.
	NumContexts int

	// NumSegmaps is the number of PMEGs. The last one is reserved as the
	// invalid segment and is never handed out.
	NumSegmaps int

	// Segment is the segment layout.
	Segment hostarch.SegmentLayout

	// CacheSize is the size of the virtual address cache in bytes.
	CacheSize int

	// LineSize is the cache line size in bytes.
	LineSize int
}

// Validate returns an error wrapping ErrBadGeometry if g cannot be modeled.
func (g Geometry) Validate() error {
	if err := g.Segment.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadGeometry, err)
	}
	switch {
	case g.NumContexts <= 0:
		return fmt.Errorf("%w: %d contexts", ErrBadGeometry, g.NumContexts)
	case g.NumSegmaps < 2 || g.NumSegmaps > 1<<16:
		return fmt.Errorf("%w: %d segmaps", ErrBadGeometry, g.NumSegmaps)
	case g.LineSize <= 0 || g.LineSize&(g.LineSize-1) != 0 || g.LineSize > hostarch.PageSize:
		return fmt.Errorf("%w: line size %d", ErrBadGeometry, g.LineSize)
	case g.CacheSize < hostarch.PageSize || g.CacheSize&(g.CacheSize-1) != 0:
		return fmt.Errorf("%w: cache size %d", ErrBadGeometry, g.CacheSize)
	}
	return nil
}

// InvalidPMEG returns the PMEG that marks an unmapped segment.
func (g Geometry) InvalidPMEG() PMEG {
	return PMEG(g.NumSegmaps - 1)
}

// NumLines returns the number of cache lines.
func (g Geometry) NumLines() int {
	return g.CacheSize / g.LineSize
}
