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

package workload

import (
	"gvisor.dev/sun4c/pkg/metric"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/sun4c"
)

// eventMetrics export the manager's event counters.
var eventMetrics = []struct {
	name        string
	description string
	value       func(*sun4c.Events) uint64
}{
	{"sun4c_segment_fills", "User faults that mapped a new segment.", func(e *sun4c.Events) uint64 { return e.SegmentFills }},
	{"sun4c_page_fills", "User faults in an already mapped segment.", func(e *sun4c.Events) uint64 { return e.PageFills }},
	{"sun4c_preloads", "Translations preloaded by segment fills.", func(e *sun4c.Events) uint64 { return e.Preloads }},
	{"sun4c_kernel_fills", "Kernel segments mapped on fault.", func(e *sun4c.Events) uint64 { return e.KernelFills }},
	{"sun4c_kernel_steals", "Kernel segments evicted to map another kernel segment.", func(e *sun4c.Events) uint64 { return e.KernelSteals }},
	{"sun4c_user_steals", "User segments evicted to map another user segment.", func(e *sun4c.Events) uint64 { return e.UserSteals }},
	{"sun4c_kernel_reclaims", "Lent entries taken back from the kernel.", func(e *sun4c.Events) uint64 { return e.KernelReclaims }},
	{"sun4c_kernel_grows", "Entries lent to the kernel.", func(e *sun4c.Events) uint64 { return e.KernelGrows }},
	{"sun4c_grow_refusals", "Kernel ring growth refused at the ceiling.", func(e *sun4c.Events) uint64 { return e.GrowRefusals }},
	{"sun4c_context_steals", "Contexts taken from their owner.", func(e *sun4c.Events) uint64 { return e.ContextSteals }},
	{"sun4c_context_demaps", "Contexts flushed and unmapped.", func(e *sun4c.Events) uint64 { return e.ContextDemaps }},
	{"sun4c_range_page_flushes", "Segments a range flush kept and flushed page by page.", func(e *sun4c.Events) uint64 { return e.RangePageFlushes }},
	{"sun4c_range_evictions", "Segments a range flush evicted.", func(e *sun4c.Events) uint64 { return e.RangeEvictions }},
}

// hardwareMetrics export the machine's operation counters.
var hardwareMetrics = []struct {
	name        string
	description string
	value       func(*mmuhw.Counters) uint64
}{
	{"mmu_context_loads", "Context register writes.", func(c *mmuhw.Counters) uint64 { return c.ContextLoads }},
	{"mmu_segmap_writes", "Segment map writes.", func(c *mmuhw.Counters) uint64 { return c.SegmapWrites }},
	{"mmu_pte_writes", "Page table entry writes.", func(c *mmuhw.Counters) uint64 { return c.PTEWrites }},
	{"vac_line_flushes", "Single line flush stores.", func(c *mmuhw.Counters) uint64 { return c.LineFlushes }},
	{"vac_chunk_flushes", "Hardware page flush stores.", func(c *mmuhw.Counters) uint64 { return c.ChunkFlushes }},
	{"vac_lines_invalidated", "Valid lines invalidated by flushes.", func(c *mmuhw.Counters) uint64 { return c.LinesInvalidated }},
	{"vac_fills", "Cache line fills.", func(c *mmuhw.Counters) uint64 { return c.Fills }},
	{"vac_hits", "Cache hits.", func(c *mmuhw.Counters) uint64 { return c.Hits }},
	{"vac_stale_hits", "Cache hits on a line filled through an older translation.", func(c *mmuhw.Counters) uint64 { return c.StaleHits }},
}

// RegisterMetrics registers metrics reading e's manager and machine in r.
// Values are read at export time; export only while e is not running a
// workload.
func RegisterMetrics(r *metric.Registry, e *Engine) error {
	for _, em := range eventMetrics {
		value := em.value
		if err := r.RegisterCustomUint64Metric(em.name, true /* cumulative */, em.description, func(...string) uint64 {
			s := e.m.Stats()
			return value(&s.Events)
		}); err != nil {
			return err
		}
	}
	for _, hm := range hardwareMetrics {
		value := hm.value
		if err := r.RegisterCustomUint64Metric(hm.name, true /* cumulative */, hm.description, func(...string) uint64 {
			c := e.mach.Counters()
			return value(&c)
		}); err != nil {
			return err
		}
	}

	rings := metric.NewField("ring", []string{"kernel", "kernel_free", "user", "user_free", "locked"})
	if err := r.RegisterCustomUint64Metric("sun4c_segments", false /* cumulative */, "PMEGs on each ring.", func(fields ...string) uint64 {
		s := e.m.Stats()
		switch fields[0] {
		case "kernel":
			return uint64(s.KernelSegments)
		case "kernel_free":
			return uint64(s.KernelFree)
		case "user":
			return uint64(s.UserUsed)
		case "user_free":
			return uint64(s.UserFree)
		default:
			return uint64(s.Locked)
		}
	}, rings); err != nil {
		return err
	}
	states := metric.NewField("state", []string{"used", "free"})
	if err := r.RegisterCustomUint64Metric("sun4c_contexts", false /* cumulative */, "Hardware contexts by state.", func(fields ...string) uint64 {
		s := e.m.Stats()
		if fields[0] == "used" {
			return uint64(s.UsedContexts)
		}
		return uint64(s.FreeContexts)
	}, states); err != nil {
		return err
	}
	if err := r.RegisterCustomUint64Metric("sun4c_user_taken", false /* cumulative */, "User entries lent to the kernel.", func(...string) uint64 {
		return uint64(e.m.Stats().UserTaken)
	}); err != nil {
		return err
	}
	if err := r.RegisterCustomUint64Metric("sun4c_max_user_taken", false /* cumulative */, "Ceiling on entries lent to the kernel.", func(...string) uint64 {
		return uint64(e.m.Stats().MaxUserTaken)
	}); err != nil {
		return err
	}
	if err := r.RegisterCustomUint64Metric("sim_user_faults", true /* cumulative */, "User faults resolved by the workload engine.", func(...string) uint64 {
		return e.res.UserFaults
	}); err != nil {
		return err
	}
	return r.RegisterCustomUint64Metric("sim_kernel_faults", true /* cumulative */, "Kernel faults resolved by the workload engine.", func(...string) uint64 {
		return e.res.KernelFaults
	})
}
