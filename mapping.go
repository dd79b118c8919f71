// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"errors"
	"fmt"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// mapCache tracks the persistent mappings of one kind.
type mapCache struct {
	// lru holds every object with a live mapping, most recently used first.
	lru *tier.List[uint32]

	// inactive holds the subset that sits in an inactive tier, per bucket,
	// so that allocation can prefer an already mapped object.
	inactive [tier.NumBuckets]*tier.List[uint32]

	limit int
}

func newMapCache(limit int) *mapCache {
	c := &mapCache{lru: tier.New[uint32](), limit: limit}
	for b := range c.inactive {
		c.inactive[b] = tier.New[uint32]()
	}
	return c
}

// Map returns a persistent mapping of an object. A mapping of the other
// kind is torn down first. Mapping a proxy returns the aliased range of its
// target's mapping.
//
// Map does not synchronize with the device; call SyncCPU before touching
// memory the device may still be using.
func (m *Manager) Map(b BO, kind MapKind) ([]byte, error) {
	if kind != MapCPU && kind != MapDevice {
		return nil, fmt.Errorf("%w: map kind %v", ErrNotMappable, kind)
	}
	p, err := m.get(b)
	if err != nil {
		return nil, err
	}
	o, offset, err := m.resolve(b)
	if err != nil {
		return nil, err
	}
	mem, err := m.mapObject(o, kind)
	if err != nil {
		return nil, err
	}
	if p.proxy {
		return mem[offset : offset+p.size : offset+p.size], nil
	}
	return mem[:o.size:o.size], nil
}

func (m *Manager) mapObject(o *bo, kind MapKind) ([]byte, error) {
	if kind == MapDevice && o.pages > m.limits.mappablePages {
		return nil, fmt.Errorf("%w: %d pages exceed the mappable aperture", ErrNotMappable, o.pages)
	}
	cache := m.maps[kind]
	if o.mapKind == kind {
		cache.lru.PushFront(o.idx)
		return o.mem, nil
	}
	if o.mapKind != mapNone {
		m.unmap(o)
	}

	for cache.lru.Len() >= cache.limit {
		idx, _ := cache.lru.Back()
		Logger().Debug("bufmgr: evicting mapping", "kind", kind, "bo", m.objs[idx].ref())
		m.unmap(m.objs[idx])
		m.stats.MapEvictions++
	}

	mem, err := m.kernelMap(o.handle, kind)
	if errors.Is(err, kernel.ErrNoMemory) {
		n := m.evictInactiveMappings(kind)
		Logger().Warn("bufmgr: map failed, evicted idle mappings", "kind", kind, "evicted", n)
		mem, err = m.kernelMap(o.handle, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotMappable, err)
	}

	o.mapKind = kind
	o.mem = mem
	cache.lru.PushFront(o.idx)
	if isInactive(o.tier.kind) {
		cache.inactive[o.tier.bucket].PushFront(o.idx)
	}
	if kind == MapCPU {
		o.domain = DomainCPU
	} else {
		o.domain = DomainGTT
	}
	return mem, nil
}

func (m *Manager) kernelMap(h kernel.Handle, kind MapKind) ([]byte, error) {
	if kind == MapCPU {
		return m.k.MapCPU(h)
	}
	return m.k.MapDevice(h)
}

// Unmap tears down the persistent mapping of an object, if any. Proxies
// share their target's mapping and are left alone.
func (m *Manager) Unmap(b BO) error {
	o, err := m.get(b)
	if err != nil {
		return err
	}
	if o.proxy {
		return fmt.Errorf("unmap: %w", ErrProxy)
	}
	if o.mapKind != mapNone {
		m.unmap(o)
	}
	return nil
}

// unmap removes an object's mapping from the kernel and the mapping caches.
func (m *Manager) unmap(o *bo) {
	cache := m.maps[o.mapKind]
	cache.lru.Remove(o.idx)
	if isInactive(o.tier.kind) {
		cache.inactive[o.tier.bucket].Remove(o.idx)
	}
	if err := m.k.Unmap(o.handle, o.mem); err != nil {
		Logger().Warn("bufmgr: unmap failed", "bo", o.ref(), "err", err)
	}
	o.mapKind = mapNone
	o.mem = nil
}

// evictInactiveMappings tears down every mapping of kind held by an idle
// cached object. It returns the number removed.
func (m *Manager) evictInactiveMappings(kind MapKind) int {
	n := 0
	for _, l := range m.maps[kind].inactive {
		for idx := range l.All() {
			m.unmap(m.objs[idx])
			n++
		}
	}
	m.stats.MapEvictions += n
	return n
}
