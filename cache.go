// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// tierKind names the cache list an object belongs to.
type tierKind uint8

const (
	tierNone tierKind = iota
	tierInactive
	tierActive
	tierLarge
	tierLargeInactive
	tierSnoop
	tierFlushing
)

// String returns the string representation of tierKind.
func (k tierKind) String() string {
	switch k {
	case tierNone:
		return "none"
	case tierInactive:
		return "inactive"
	case tierActive:
		return "active"
	case tierLarge:
		return "large"
	case tierLargeInactive:
		return "large-inactive"
	case tierSnoop:
		return "snoop"
	case tierFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// tierRef locates an object's membership. bucket and tiling are only
// meaningful for the bucketed tiers.
type tierRef struct {
	kind   tierKind
	bucket int
	tiling Tiling
}

// tiers holds every cache list. Each list holds arena indices; an object
// is on at most one of them, recorded in bo.tier.
type tiers struct {
	inactive      [tier.NumBuckets]*tier.List[uint32]
	active        [tier.NumBuckets][kernel.NumTilings]*tier.List[uint32]
	large         *tier.List[uint32]
	largeInactive *tier.List[uint32]
	snoop         *tier.List[uint32]
	flushing      *tier.List[uint32]
}

func newTiers() tiers {
	var t tiers
	for b := range t.inactive {
		t.inactive[b] = tier.New[uint32]()
		for i := range t.active[b] {
			t.active[b][i] = tier.New[uint32]()
		}
	}
	t.large = tier.New[uint32]()
	t.largeInactive = tier.New[uint32]()
	t.snoop = tier.New[uint32]()
	t.flushing = tier.New[uint32]()
	return t
}

func (t *tiers) list(ref tierRef) *tier.List[uint32] {
	switch ref.kind {
	case tierInactive:
		return t.inactive[ref.bucket]
	case tierActive:
		return t.active[ref.bucket][ref.tiling]
	case tierLarge:
		return t.large
	case tierLargeInactive:
		return t.largeInactive
	case tierSnoop:
		return t.snoop
	case tierFlushing:
		return t.flushing
	default:
		return nil
	}
}

func isInactive(k tierKind) bool {
	return k == tierInactive || k == tierLargeInactive
}

// link moves an object onto a cache list, leaving its previous list first.
// Inactive lists take new entries at the front; the rest are FIFO.
func (m *Manager) link(o *bo, kind tierKind) {
	m.unlink(o)

	ref := tierRef{kind: kind, bucket: o.bucket(), tiling: o.tiling}
	l := m.tiers.list(ref)
	if l == nil {
		return
	}
	o.tier = ref
	if isInactive(kind) {
		l.PushFront(o.idx)
		m.cachedPages += o.pages
		if o.mapKind != mapNone {
			m.maps[o.mapKind].inactive[ref.bucket].PushFront(o.idx)
		}
	} else {
		l.PushBack(o.idx)
	}
}

// unlink removes an object from its cache list, if any.
func (m *Manager) unlink(o *bo) {
	ref := o.tier
	if ref.kind == tierNone {
		return
	}
	m.tiers.list(ref).Remove(o.idx)
	if isInactive(ref.kind) {
		m.cachedPages -= o.pages
		if o.mapKind != mapNone {
			m.maps[o.mapKind].inactive[ref.bucket].Remove(o.idx)
		}
	}
	o.tier = tierRef{}
}

// allocRequest is one lookup through the cache tiers.
type allocRequest struct {
	pages  int
	tiling Tiling
	pitch  int
	flags  CreateFlags
}

func (r allocRequest) exact() bool {
	return r.flags&CreateExact != 0
}

func (r allocRequest) mapKind() MapKind {
	switch {
	case r.flags&CreateCPUMap != 0:
		return MapCPU
	case r.flags&CreateGTTMap != 0:
		return MapDevice
	default:
		return mapNone
	}
}

// nearMiss reports whether an object of pages pages is close enough in
// size to be retiled for the request.
func (m *Manager) nearMiss(pages int, r allocRequest) bool {
	return float64(pages) <= float64(r.pages)*m.cfg.NearMissRatio
}

// Acquire returns an object of at least size bytes in the requested tiling,
// reusing a cached object when one fits and allocating otherwise. The
// returned object holds one reference.
//
// Tiled objects acquired this way carry no pitch; use CreateSurface for
// 2D surfaces.
func (m *Manager) Acquire(size int, tiling Tiling, flags CreateFlags) (BO, error) {
	if m.closed {
		return NoBO, ErrClosed
	}
	if size <= 0 {
		return NoBO, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	o, err := m.acquire(allocRequest{
		pages:  tier.PagesFor(size, kernel.PageSize),
		tiling: tiling,
		flags:  flags,
	})
	if err != nil {
		return NoBO, err
	}
	o.size = size
	return o.ref(), nil
}

// acquire runs the allocation path: mapping caches, active tier, inactive
// tier (large lists for large objects), then a new kernel allocation.
func (m *Manager) acquire(r allocRequest) (*bo, error) {
	if uint64(r.pages)*kernel.PageSize > m.limits.maxObjectSize {
		return nil, fmt.Errorf("%w: %d pages (max %d bytes)", ErrTooLarge, r.pages, m.limits.maxObjectSize)
	}
	if r.flags&CreateSnoop != 0 && !m.params.HasSnoop && !m.params.HasLLC {
		return nil, fmt.Errorf("%w: snooped objects", kernel.ErrNotSupported)
	}

	if o := m.search(r); o != nil {
		m.stats.CacheHits++
		m.claim(o, r)
		Logger().Debug("bufmgr: cache hit",
			"bo", o.ref(), "pages", o.pages, "want", r.pages, "tiling", o.tiling)
		return o, nil
	}
	m.stats.CacheMisses++
	return m.create(r)
}

// search looks through the tiers in allocation order.
func (m *Manager) search(r allocRequest) *bo {
	if r.flags&CreateSnoop != 0 {
		return m.searchSnoop(r)
	}
	if r.pages >= m.limits.largePages {
		return m.searchLarge(r)
	}
	if kind := r.mapKind(); kind != mapNone {
		if o := m.searchMapped(kind, r); o != nil {
			return o
		}
	}
	if r.flags&CreateInactive == 0 {
		if o := m.searchActive(r); o != nil {
			return o
		}
	}
	return m.searchInactive(m.tiers.inactive[tier.Bucket(r.pages)], r)
}

// searchMapped takes an inactive object that already holds a mapping of
// the requested kind: an exact size match at once, otherwise the tightest
// fit among the first SearchRetry candidates.
func (m *Manager) searchMapped(kind MapKind, r allocRequest) *bo {
	for {
		var best *bo
		retry := m.cfg.SearchRetry
		for idx := range m.maps[kind].inactive[tier.Bucket(r.pages)].All() {
			o := m.objs[idx]
			if o.pages < r.pages || o.tiling != r.tiling {
				continue
			}
			if o.pages == r.pages {
				best = o
				break
			}
			if best == nil || o.pages < best.pages {
				best = o
			}
			if retry--; retry == 0 {
				break
			}
		}
		if best == nil {
			return nil
		}
		if m.reclaim(best) {
			return best
		}
	}
}

// searchActive takes an object that is unreferenced but still queued on the
// device. The device serializes access, so it is safe for GPU-only use.
func (m *Manager) searchActive(r allocRequest) *bo {
	bucket := tier.Bucket(r.pages)
	retry := m.cfg.SearchRetry
	for idx := range m.tiers.active[bucket][r.tiling].All() {
		o := m.objs[idx]
		if o.pages >= r.pages && m.pitchOK(o, r) {
			return o
		}
		if retry--; retry == 0 {
			break
		}
	}
	if r.exact() || !m.params.HasRelaxedFencing {
		return nil
	}
	// Retiling an active object does not stall once fences are relaxed.
	for t := range Tiling(kernel.NumTilings) {
		if t == r.tiling {
			continue
		}
		for idx := range m.tiers.active[bucket][t].All() {
			o := m.objs[idx]
			if o.pages >= r.pages && !o.inBatch() && m.nearMiss(o.pages, r) {
				return o
			}
		}
	}
	return nil
}

// pitchOK reports whether a candidate of the right tiling can serve the
// request without a layout change or with a cheap pitch rewrite.
func (m *Manager) pitchOK(o *bo, r allocRequest) bool {
	if r.tiling == TilingNone || r.pitch == 0 || o.pitch == r.pitch {
		return true
	}
	return !o.inBatch()
}

// searchInactive scans an inactive list for a matching tiling, remembering
// the first near miss that a retile would make usable.
func (m *Manager) searchInactive(l *tier.List[uint32], r allocRequest) *bo {
	for {
		var hit, near *bo
		retry := m.cfg.SearchRetry
		for idx := range l.All() {
			o := m.objs[idx]
			if o.pages < r.pages {
				continue
			}
			if o.tiling == r.tiling && (o.pitch == r.pitch || r.pitch == 0 || r.tiling == TilingNone) {
				if m.nearMiss(o.pages, r) || o.pages == r.pages {
					hit = o
					break
				}
			} else if near == nil && !r.exact() && m.nearMiss(o.pages, r) {
				near = o
			}
			if retry--; retry == 0 {
				break
			}
		}
		if hit == nil {
			hit = near
		}
		if hit == nil {
			return nil
		}
		if m.reclaim(hit) {
			return hit
		}
	}
}

// searchLarge scans the large lists linearly; large objects are rare.
func (m *Manager) searchLarge(r allocRequest) *bo {
	if r.flags&CreateInactive == 0 {
		for idx := range m.tiers.large.All() {
			o := m.objs[idx]
			if o.pages >= r.pages && o.tiling == r.tiling && m.nearMiss(o.pages, r) && m.pitchOK(o, r) {
				return o
			}
		}
	}
	return m.searchInactive(m.tiers.largeInactive, r)
}

// searchSnoop takes the tightest snooped object within the near-miss ratio.
func (m *Manager) searchSnoop(r allocRequest) *bo {
	var best *bo
	for idx := range m.tiers.snoop.All() {
		o := m.objs[idx]
		if o.pages < r.pages || !m.nearMiss(o.pages, r) {
			continue
		}
		if best == nil || o.pages < best.pages {
			best = o
		}
		if o.pages == r.pages {
			break
		}
	}
	return best
}

// reclaim makes a purgeable candidate usable again. If the kernel dropped
// its pages the object is destroyed and reclaim reports false.
func (m *Manager) reclaim(o *bo) bool {
	if !o.purged {
		return true
	}
	retained, err := m.k.Madvise(o.handle, false)
	if err == nil && retained {
		o.purged = false
		return true
	}
	Logger().Warn("bufmgr: discarding purged object", "bo", o.ref(), "pages", o.pages, "err", err)
	m.stats.PurgedDiscards++
	m.destroyObject(o)
	return false
}

// claim hands a cached object to a client, fixing up its layout. The slot
// gets a new generation so handles from its previous owner stay invalid.
func (m *Manager) claim(o *bo, r allocRequest) {
	m.unlink(o)
	o.gen = nextGen(o.gen)
	if o.tiling != r.tiling || (r.tiling != TilingNone && r.pitch != 0 && o.pitch != r.pitch) {
		m.retile(o, r.tiling, r.pitch)
	}
	o.refcnt = 1
	o.reusable = true
	o.scanout = r.flags&CreateScanout != 0
	o.size = r.pages * kernel.PageSize
	o.lastUsed = m.cfg.Clock()
}

// retile changes an object's layout, keeping whatever the kernel reports.
func (m *Manager) retile(o *bo, t Tiling, pitch int) {
	if t == TilingNone {
		pitch = 0
	}
	got, gotPitch, err := m.k.SetTiling(o.handle, t, uint32(pitch))
	if err != nil {
		Logger().Warn("bufmgr: set tiling failed", "bo", o.ref(), "tiling", t, "err", err)
		return
	}
	m.stats.Retiles++
	o.tiling = got
	o.pitch = int(gotPitch)
	if got != t {
		Logger().Debug("bufmgr: kernel adjusted tiling", "bo", o.ref(), "want", t, "got", got)
	}
}

// usageFor derives the kernel usage flags of a new object.
func usageFor(flags CreateFlags) gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage
	if flags&(CreateCPUMap|CreateGTTMap|CreateSnoop) != 0 {
		usage |= gputypes.BufferUsageMapWrite
	}
	return usage
}

// create allocates a new kernel object. When the kernel is out of memory
// the inactive caches are released and the allocation retried once.
func (m *Manager) create(r allocRequest) (*bo, error) {
	size := uint64(r.pages) * kernel.PageSize
	usage := usageFor(r.flags)

	h, err := m.k.Create(size, usage)
	if errors.Is(err, kernel.ErrNoMemory) {
		freed := m.purgeCaches()
		Logger().Warn("bufmgr: allocation failed, purged caches", "pages", r.pages, "freed", freed)
		h, err = m.k.Create(size, usage)
	}
	if err != nil {
		if errors.Is(err, kernel.ErrNoMemory) {
			return nil, fmt.Errorf("%w: %d pages", ErrNoMemory, r.pages)
		}
		return nil, fmt.Errorf("create %d pages: %w", r.pages, err)
	}

	o := m.newSlot()
	o.handle = h
	o.pages = r.pages
	o.size = int(size)
	o.scanout = r.flags&CreateScanout != 0
	m.stats.Allocations++

	if r.tiling != TilingNone {
		m.retile(o, r.tiling, r.pitch)
	}
	if r.flags&CreateSnoop != 0 {
		if err := m.k.SetCaching(h, true); err != nil {
			m.destroyObject(o)
			return nil, fmt.Errorf("set snooped caching: %w", err)
		}
		o.snoop = true
	}
	Logger().Debug("bufmgr: new object", "bo", o.ref(), "handle", h, "pages", r.pages, "tiling", o.tiling)
	return o, nil
}

// dispose is the release path of an object whose last reference is gone.
func (m *Manager) dispose(o *bo) {
	if o.proxy {
		m.destroyProxy(o)
		return
	}
	o.lastUsed = m.cfg.Clock()

	if o.rq != nil {
		// Still referenced by a batch; ownership stays with the request.
		if !o.reusable {
			m.unlink(o)
			return
		}
		if o.pages >= m.limits.largePages {
			m.link(o, tierLarge)
		} else {
			m.link(o, tierActive)
		}
		return
	}

	// A retired object can still be in use on another ring. It waits on
	// the flushing tier rather than being freed or cached as idle.
	if o.needsFlush || o.presumed != noAddress && !m.wedged {
		engines, err := m.k.Busy(o.handle)
		if err == nil && engines != 0 {
			m.link(o, tierFlushing)
			return
		}
		o.needsFlush = false
	}

	if !o.reusable || m.wedged && o.domain == DomainGPU {
		m.destroyObject(o)
		return
	}

	if o.snoop {
		m.link(o, tierSnoop)
		return
	}

	if !o.purged {
		retained, err := m.k.Madvise(o.handle, true)
		if err != nil || !retained {
			m.destroyObject(o)
			return
		}
		o.purged = true
	}
	if o.pages >= m.limits.largePages {
		m.link(o, tierLargeInactive)
	} else {
		m.link(o, tierInactive)
	}
}

// destroyObject frees an object's kernel memory and its arena slot.
func (m *Manager) destroyObject(o *bo) {
	m.unlink(o)
	if o.mapKind != mapNone {
		m.unmap(o)
	}
	if o.rq != nil {
		o.rq.members.Remove(o.idx)
	}
	if err := m.k.Destroy(o.handle); err != nil {
		Logger().Warn("bufmgr: destroy failed", "bo", o.ref(), "handle", o.handle, "err", err)
	}
	m.stats.Frees++
	m.freeSlot(o)
}

// purgeCaches frees every idle cached object. It returns the number freed.
func (m *Manager) purgeCaches() int {
	n := 0
	drain := func(l *tier.List[uint32]) {
		for idx := range l.All() {
			m.destroyObject(m.objs[idx])
			n++
		}
	}
	for _, l := range m.tiers.inactive {
		drain(l)
	}
	drain(m.tiers.largeInactive)
	drain(m.tiers.snoop)
	return n
}

// Expire frees cached objects that have been idle longer than ExpireAfter,
// then trims the inactive cache below its high watermark oldest first. It
// returns the number of objects freed and whether idle objects remain.
func (m *Manager) Expire() (freed int, more bool) {
	if m.closed {
		return 0, false
	}
	m.Retire()

	deadline := m.cfg.Clock().Add(-m.cfg.ExpireAfter)
	expire := func(l *tier.List[uint32]) {
		for idx := range l.Backward() {
			o := m.objs[idx]
			if o.lastUsed.After(deadline) {
				more = true
				continue
			}
			m.destroyObject(o)
			freed++
		}
	}
	for _, l := range m.tiers.inactive {
		expire(l)
	}
	expire(m.tiers.largeInactive)
	expire(m.tiers.snoop)

	for b := tier.NumBuckets - 1; b >= 0 && m.cachedPages > m.limits.cacheHighPages; b-- {
		for idx := range m.tiers.inactive[b].Backward() {
			if m.cachedPages <= m.limits.cacheHighPages {
				break
			}
			m.destroyObject(m.objs[idx])
			freed++
		}
	}
	for idx := range m.tiers.largeInactive.Backward() {
		if m.cachedPages <= m.limits.cacheHighPages {
			break
		}
		m.destroyObject(m.objs[idx])
		freed++
	}

	if freed > 0 {
		Logger().Debug("bufmgr: expired cached objects", "freed", freed, "cachedPages", m.cachedPages)
	}
	return freed, more
}
