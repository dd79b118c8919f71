// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"fmt"

	"github.com/gogpu/bufmgr/kernel"
)

// counters are the monotonic event counts of a manager.
type counters struct {
	Allocations    int
	Frees          int
	CacheHits      int
	CacheMisses    int
	Retiles        int
	PurgedDiscards int
	MapEvictions   int
	Submits        int
	Retries        int
	Retired        int
	Uploads        int
}

// Stats is a snapshot of manager activity and cache occupancy.
type Stats struct {
	counters

	// Live is the number of live objects, proxies included.
	Live int

	Inactive      int
	Active        int
	Large         int
	LargeInactive int
	Snoop         int
	Flushing      int

	// CachedPages is the number of pages held by the inactive tiers.
	CachedPages int

	CPUMaps    int
	DeviceMaps int

	Outstanding [kernel.NumRings]int
	Partials    int

	Wedged bool
}

// Stats returns a snapshot of the manager's counters and cache occupancy.
func (m *Manager) Stats() Stats {
	s := Stats{
		counters:      m.stats,
		Large:         m.tiers.large.Len(),
		LargeInactive: m.tiers.largeInactive.Len(),
		Snoop:         m.tiers.snoop.Len(),
		Flushing:      m.tiers.flushing.Len(),
		CachedPages:   m.cachedPages,
		Partials:      len(m.partials),
		Wedged:        m.wedged,
	}
	for _, o := range m.objs {
		if o.live {
			s.Live++
		}
	}
	for b := range m.tiers.inactive {
		s.Inactive += m.tiers.inactive[b].Len()
		for _, l := range m.tiers.active[b] {
			s.Active += l.Len()
		}
	}
	if !m.closed {
		s.CPUMaps = m.maps[MapCPU].lru.Len()
		s.DeviceMaps = m.maps[MapDevice].lru.Len()
	}
	for r := range m.requests {
		s.Outstanding[r] = len(m.requests[r])
	}
	return s
}

// String returns a one-line summary of the snapshot.
func (s Stats) String() string {
	return fmt.Sprintf("Stats[live=%d alloc=%d free=%d hit=%d miss=%d inactive=%d active=%d flushing=%d maps=%d/%d submits=%d outstanding=%v wedged=%t]",
		s.Live, s.Allocations, s.Frees, s.CacheHits, s.CacheMisses,
		s.Inactive, s.Active, s.Flushing, s.CPUMaps, s.DeviceMaps,
		s.Submits, s.Outstanding, s.Wedged)
}
