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

// Package sun4c manages the segment maps, PMEGs and hardware contexts of a
// sun4c MMU.
//
// The sun4c has no page table walker. Translations are held in a small
// number of PMEGs, each mapping one segment through a segment map slot of a
// context. The Manager multiplexes every kernel and user segment onto those
// PMEGs, stealing and reassigning them on demand, and keeps the virtually
// addressed cache coherent by flushing whatever it unmaps.
//
// PMEGs are tracked by rings of entries:
//
//   - kfree and kernel hold entries available to and used by the kernel.
//   - ufree holds entries available to user mappings.
//   - one ring per context holds the user entries mapped in that context,
//     sorted by virtual address. Every such entry is also on the global LRU
//     ring, oldest first.
//   - locked holds entries that are never evicted.
//
// Lock ordering: Manager.mu is the only lock. Every exported method takes it;
// methods with a Locked suffix require it.
package sun4c

import (
	"errors"
	"fmt"
	"time"

	"gvisor.dev/sun4c/pkg/hostarch"
	"gvisor.dev/sun4c/pkg/log"
	"gvisor.dev/sun4c/pkg/mmuhw"
	"gvisor.dev/sun4c/pkg/ring"
	"gvisor.dev/sun4c/pkg/sync"
	"gvisor.dev/sun4c/pkg/vac"
)

// ErrBadConfig is returned by New for pool parameters that leave no room for
// user mappings.
var ErrBadConfig = errors.New("invalid MMU configuration")

// DefaultKernelBase is the start of the kernel's address space.
const DefaultKernelBase hostarch.Addr = 0xf0000000

// Config configures a Manager.
type Config struct {
	// KernelBase is the lowest kernel address. Addresses below it are user
	// addresses. It must be segment aligned.
	KernelBase hostarch.Addr

	// LockedSegments is the number of segments from KernelBase locked at
	// boot to map the kernel image.
	LockedSegments int

	// KernelRingSeed is the number of entries placed on the kernel free
	// ring at boot. It must be at least one.
	KernelRingSeed int

	// LendReserve is the number of user entries the kernel may never
	// borrow.
	LendReserve int

	// MaxUserLendable, if positive, overrides the borrowing ceiling
	// computed from LendReserve.
	MaxUserLendable int

	// RangeFlushPages is the largest overlap, in pages, that a cache range
	// flush handles page by page. Larger overlaps evict the segment.
	RangeFlushPages int

	// Preload loads every present translation of a segment from the page
	// table when the segment is first mapped.
	Preload bool

	// HWFlushes selects hardware-assisted cache flushes.
	HWFlushes bool

	// AllowAnyGeometry accepts context and segment map counts other than
	// those of real sun4c machines.
	AllowAnyGeometry bool
}

// DefaultConfig returns the configuration of a stock sun4c kernel.
func DefaultConfig() Config {
	return Config{
		KernelBase:      DefaultKernelBase,
		LockedSegments:  4,
		KernelRingSeed:  8,
		LendReserve:     24,
		RangeFlushPages: 8,
		Preload:         true,
	}
}

// checkGeometry rejects geometries the allocation arithmetic was not tuned
// for.
func checkGeometry(g mmuhw.Geometry, any bool) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if any {
		return nil
	}
	switch g.NumContexts {
	case 8, 16:
	default:
		return fmt.Errorf("%w: %d contexts", mmuhw.ErrBadGeometry, g.NumContexts)
	}
	switch g.NumSegmaps {
	case 128, 256, 512:
	default:
		return fmt.Errorf("%w: %d segmaps", mmuhw.ErrBadGeometry, g.NumSegmaps)
	}
	return nil
}

// maxUserTaken returns the initial borrowing ceiling.
func (c *Config) maxUserTaken(g mmuhw.Geometry) int {
	if c.MaxUserLendable > 0 {
		return c.MaxUserLendable
	}
	return g.NumSegmaps - c.LockedSegments - c.LendReserve - 1
}

// Validate returns an error if a manager cannot boot with c on a machine of
// geometry g.
func (c *Config) Validate(g mmuhw.Geometry) error {
	if err := checkGeometry(g, c.AllowAnyGeometry); err != nil {
		return err
	}
	if err := vac.InfoFor(g, c.HWFlushes).Validate(); err != nil {
		return err
	}
	seg := g.Segment
	if seg.RoundDown(c.KernelBase) != c.KernelBase || c.KernelBase == 0 {
		return fmt.Errorf("%w: kernel base %v is not a nonzero segment boundary", ErrBadConfig, c.KernelBase)
	}
	if c.LockedSegments < 0 || c.KernelRingSeed < 1 || c.LendReserve < 0 || c.RangeFlushPages < 0 {
		return fmt.Errorf("%w: negative pool parameter or empty kernel seed", ErrBadConfig)
	}
	kernelSegs := (uint64(1<<32) - uint64(c.KernelBase)) >> seg.Shift
	if uint64(c.LockedSegments) > kernelSegs {
		return fmt.Errorf("%w: %d locked segments do not fit above %v", ErrBadConfig, c.LockedSegments, c.KernelBase)
	}
	// Entries left for users once the invalid PMEG, the kernel image and
	// the kernel seed are set aside. The kernel may borrow all but one of
	// them, so a user fault can always evict something.
	user := g.NumSegmaps - 1 - c.LockedSegments - c.KernelRingSeed
	if user < 1 {
		return fmt.Errorf("%w: no user segments (%d segmaps, %d locked, %d seeded)", ErrBadConfig, g.NumSegmaps, c.LockedSegments, c.KernelRingSeed)
	}
	if lim := c.maxUserTaken(g); lim < 0 || lim > user-1 {
		return fmt.Errorf("%w: lendable ceiling %d outside [0, %d]", ErrBadConfig, lim, user-1)
	}
	return nil
}

// context is the record of one hardware context.
type context struct {
	// owner is the space holding the context, or nil if it is free.
	owner *MemorySpace
}

// Manager is the software TLB of a sun4c MMU.
type Manager struct {
	hw      mmuhw.Hardware
	geo     mmuhw.Geometry
	cfg     Config
	vac     vac.Info
	flusher vac.Flusher
	invalid mmuhw.PMEG

	// debug logs steals and refusals.
	debug log.Logger

	// mu protects the fields below and the hardware state.
	mu sync.Mutex

	// entries is the pool, indexed by PMEG.
	entries []entry

	// own and lru are the link columns of the ownership and LRU rings.
	// Sentinels follow the entries.
	own ring.Links
	lru ring.Links

	kfree    *ring.Ring
	kernel   *ring.Ring
	ufree    *ring.Ring
	locked   *ring.Ring
	ctxRings []*ring.Ring
	ulru     *ring.Ring

	contexts []context
	ctxLinks ring.Links
	ctxFree  *ring.Ring

	// ctxUsed is ordered most recently used first.
	ctxUsed *ring.Ring

	// userTaken is the number of user entries lent to the kernel.
	userTaken int

	// maxUserTaken caps userTaken.
	maxUserTaken int

	// lockedRanges is the number of entries locked by LockRange.
	lockedRanges int

	events Events
}

// New boots the MMU behind hw and returns its manager.
//
// The cache is disabled and invalidated, every segment map is cleared, the
// kernel image is locked at KernelBase, the remaining PMEGs are seeded onto
// the free rings and the cache is enabled again.
func New(hw mmuhw.Hardware, cfg Config) (*Manager, error) {
	g := hw.Geometry()
	if err := cfg.Validate(g); err != nil {
		return nil, err
	}
	info := vac.InfoFor(g, cfg.HWFlushes)

	n := g.NumSegmaps
	m := &Manager{
		hw:       hw,
		geo:      g,
		cfg:      cfg,
		vac:      info,
		invalid:  g.InvalidPMEG(),
		debug:    log.BasicRateLimitedLogger(100 * time.Millisecond),
		entries:  make([]entry, n),
		own:      ring.NewLinks(n + 4 + g.NumContexts),
		lru:      ring.NewLinks(n + 1),
		ctxRings: make([]*ring.Ring, g.NumContexts),
		contexts: make([]context, g.NumContexts),
		ctxLinks: ring.NewLinks(g.NumContexts + 2),
	}
	sentinel := ring.Handle(n)
	m.kfree = m.own.NewRing(sentinel)
	m.kernel = m.own.NewRing(sentinel + 1)
	m.ufree = m.own.NewRing(sentinel + 2)
	m.locked = m.own.NewRing(sentinel + 3)
	for i := range m.ctxRings {
		m.ctxRings[i] = m.own.NewRing(sentinel + 4 + ring.Handle(i))
	}
	m.ulru = m.lru.NewRing(sentinel)
	m.ctxFree = m.ctxLinks.NewRing(ring.Handle(g.NumContexts))
	m.ctxUsed = m.ctxLinks.NewRing(ring.Handle(g.NumContexts + 1))
	for c := g.NumContexts - 1; c >= 0; c-- {
		m.ctxFree.PushFront(ring.Handle(c))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hw.SetCacheEnabled(false)
	vac.FlushAll(hw, info)
	m.cleanSegmapsLocked()

	for i := range m.entries {
		m.entries[i] = entry{pseg: mmuhw.PMEG(i), ctx: NoContext}
	}

	// The invalid PMEG backs every unmapped segment and is never handed
	// out.
	inv := &m.entries[m.invalid]
	inv.locked, inv.boot = true, true
	m.addRingLocked(m.locked, handle(m.invalid), ownLocked)

	seg := g.Segment.Size()
	for i := 0; i < cfg.LockedSegments; i++ {
		e := &m.entries[i]
		e.vaddr = cfg.KernelBase + hostarch.Addr(uint32(i)*seg)
		e.locked, e.boot = true, true
		m.addRingLocked(m.locked, ring.Handle(i), ownLocked)
		m.mapAllContextsLocked(e.vaddr, e.pseg)
		for p := 0; p < g.Segment.Pages(); p++ {
			addr := e.vaddr + hostarch.Addr(p*hostarch.PageSize)
			pfn := uint32(addr-cfg.KernelBase) >> hostarch.PageShift
			hw.PutPTE(addr, mmuhw.MakePTE(pfn, true /* write */, true /* priv */, hostarch.MemoryTypeCached))
		}
	}

	first := cfg.LockedSegments
	seed := first + cfg.KernelRingSeed
	for i := seed - 1; i >= first; i-- {
		m.addRingLocked(m.kfree, ring.Handle(i), ownKernelFree)
	}
	for i := n - 2; i >= seed; i-- {
		m.addRingLocked(m.ufree, ring.Handle(i), ownUserFree)
	}

	m.maxUserTaken = cfg.maxUserTaken(g)
	m.flusher = vac.NewFlusher(hw, info)
	hw.SetContext(0)
	hw.SetCacheEnabled(true)

	log.Infof("sun4c: %d contexts, %d segmaps of %d pages, VAC %v", g.NumContexts, n, g.Segment.Pages(), info)
	log.Infof("sun4c: %d locked, %d kernel, %d user segments, kernel may borrow %d", m.locked.Len(), m.kfree.Len(), m.ufree.Len(), m.maxUserTaken)
	return m, nil
}

// cleanSegmapsLocked maps the invalid PMEG at every segment of every
// context.
//
// Precondition: m.mu must be locked.
func (m *Manager) cleanSegmapsLocked() {
	seg := m.geo.Segment
	nsegs := uint64(1) << (32 - seg.Shift)
	for c := 0; c < m.geo.NumContexts; c++ {
		m.hw.SetContext(c)
		for s := uint64(0); s < nsegs; s++ {
			m.hw.PutSegmap(hostarch.Addr(s<<seg.Shift), m.invalid)
		}
	}
	m.hw.SetContext(0)
}

// Geometry returns the geometry of the managed MMU.
func (m *Manager) Geometry() mmuhw.Geometry {
	return m.geo
}

// VAC returns the cache description.
func (m *Manager) VAC() vac.Info {
	return m.vac
}

// KernelBase returns the lowest kernel address.
func (m *Manager) KernelBase() hostarch.Addr {
	return m.cfg.KernelBase
}

// mapAllContextsLocked maps pmeg at addr in every context.
//
// Precondition: m.mu must be locked.
func (m *Manager) mapAllContextsLocked(addr hostarch.Addr, pmeg mmuhw.PMEG) {
	saved := m.hw.Context()
	for c := 0; c < m.geo.NumContexts; c++ {
		m.hw.SetContext(c)
		m.hw.PutSegmap(addr, pmeg)
	}
	m.hw.SetContext(saved)
}

// unmapAllContextsLocked unmaps addr's segment in every context.
//
// Precondition: m.mu must be locked.
func (m *Manager) unmapAllContextsLocked(addr hostarch.Addr) {
	m.mapAllContextsLocked(addr, m.invalid)
}

// clearSegmentLocked writes an invalid PTE for every page of the segment at
// base, which must be mapped in the current context.
//
// Precondition: m.mu must be locked.
func (m *Manager) clearSegmentLocked(base hostarch.Addr) {
	for p := 0; p < m.geo.Segment.Pages(); p++ {
		m.hw.PutPTE(base+hostarch.Addr(p*hostarch.PageSize), 0)
	}
}

// switchContextLocked loads ctx into the context register and returns the
// previous value, for restoreContextLocked.
//
// Precondition: m.mu must be locked.
func (m *Manager) switchContextLocked(ctx int) int {
	saved := m.hw.Context()
	if saved != ctx {
		m.hw.SetContext(ctx)
	}
	return saved
}

// restoreContextLocked reloads a context saved by switchContextLocked.
//
// Precondition: m.mu must be locked.
func (m *Manager) restoreContextLocked(saved int) {
	if m.hw.Context() != saved {
		m.hw.SetContext(saved)
	}
}
