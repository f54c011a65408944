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

// Package config provides basic infrastructure to set configuration settings
// for sun4csim. sun4csim uses command line flags to set configuration values,
// optionally layered over a TOML file named by --config.
package config

import (
	"fmt"

	"github.com/mohae/deepcopy"
	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/log"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/sun4c"
)

// Config holds configuration that is not part of a workload.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a TOML key.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any validation in Validate.
type Config struct {
	// ConfigFile is the TOML file the other settings are loaded from.
	// Flags set on the command line take precedence over it.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// Contexts is the number of hardware contexts.
	Contexts int `flag:"contexts" toml:"contexts"`

	// Segmaps is the number of PMEGs, including the invalid one.
	Segmaps int `flag:"segmaps" toml:"segmaps"`

	// SegmentShift is the binary log of the segment size.
	SegmentShift uint `flag:"segment-shift" toml:"segment_shift"`

	// VACSize is the size of the virtual address cache in bytes.
	VACSize int `flag:"vac-size" toml:"vac_size"`

	// VACLineSize is the cache line size in bytes.
	VACLineSize int `flag:"vac-linesize" toml:"vac_linesize"`

	// VACHWFlush selects hardware-assisted page flushes.
	VACHWFlush bool `flag:"vac-hwflush" toml:"vac_hwflush"`

	// AnyGeometry accepts context and segmap counts no real machine has.
	AnyGeometry bool `flag:"any-geometry" toml:"any_geometry"`

	// KernelBase is the lowest kernel virtual address.
	KernelBase uint64 `flag:"kernel-base" toml:"kernel_base"`

	// LockedSegments is the number of segments locked for the kernel image.
	LockedSegments int `flag:"locked-segments" toml:"locked_segments"`

	// KernelRingSeed is the number of PMEGs seeded on the kernel free ring.
	KernelRingSeed int `flag:"kernel-seed" toml:"kernel_seed"`

	// LendReserve is the number of user PMEGs the kernel may never borrow.
	LendReserve int `flag:"lend-reserve" toml:"lend_reserve"`

	// MaxUserLendable overrides the borrowing ceiling when positive.
	MaxUserLendable int `flag:"max-lendable" toml:"max_lendable"`

	// RangeFlushPages is the range flush threshold in pages.
	RangeFlushPages int `flag:"range-flush-pages" toml:"range_flush_pages"`

	// Preload loads a segment's translations when it is first mapped.
	Preload bool `flag:"preload" toml:"preload"`

	// CheckInvariants verifies the pool after every workload step.
	CheckInvariants bool `flag:"check-invariants" toml:"check_invariants"`
}

// Validate checks that the configuration describes a machine the manager
// can boot on.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.KernelBase > 0xffffffff {
		return fmt.Errorf("kernel base %#x does not fit in 32 bits", c.KernelBase)
	}
	g, mc := c.ManagerConfig()
	if err := mc.Validate(g); err != nil {
		return fmt.Errorf("invalid machine configuration: %w", err)
	}
	return nil
}

// Geometry returns the simulated machine's geometry.
func (c *Config) Geometry() mmuhw.Geometry {
	return mmuhw.Geometry{
		NumContexts: c.Contexts,
		NumSegmaps:  c.Segmaps,
		Segment:     hostarch.SegmentLayout{Shift: c.SegmentShift},
		CacheSize:   c.VACSize,
		LineSize:    c.VACLineSize,
	}
}

// ManagerConfig returns the machine geometry and manager configuration.
func (c *Config) ManagerConfig() (mmuhw.Geometry, sun4c.Config) {
	return c.Geometry(), sun4c.Config{
		KernelBase:       hostarch.Addr(c.KernelBase),
		LockedSegments:   c.LockedSegments,
		KernelRingSeed:   c.KernelRingSeed,
		LendReserve:      c.LendReserve,
		MaxUserLendable:  c.MaxUserLendable,
		RangeFlushPages:  c.RangeFlushPages,
		Preload:          c.Preload,
		HWFlushes:        c.VACHWFlush,
		AllowAnyGeometry: c.AnyGeometry,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("Geometry: %d contexts, %d segmaps, %d-byte segments", c.Contexts, c.Segmaps, 1<<c.SegmentShift)
	log.Infof("VAC: %d bytes, %d-byte lines, hw flush: %t", c.VACSize, c.VACLineSize, c.VACHWFlush)
	log.Infof("Kernel base: %#x, locked: %d, seed: %d", c.KernelBase, c.LockedSegments, c.KernelRingSeed)
	log.Infof("Lend reserve: %d, max lendable: %d", c.LendReserve, c.MaxUserLendable)
	log.Infof("Range flush pages: %d, preload: %t", c.RangeFlushPages, c.Preload)
	log.Infof("Check invariants: %t", c.CheckInvariants)
}
