// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"github.com/rs/xid"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// request groups the objects referenced by one batch. It is opened with the
// batch and owns its members until the device has finished with them.
type request struct {
	id   xid.ID
	ring Ring

	// batch holds a reference on the submitted commands until the request
	// retires.
	batch     BO
	submitted bool
	retired   bool

	members *tier.List[uint32]
}

// RequestInfo describes one outstanding request.
type RequestInfo struct {
	ID      string
	Ring    Ring
	Members int

	// Batch is the kernel handle of the submitted commands.
	Batch kernel.Handle
}

// beginRequest opens the accumulation context of a new batch.
func (m *Manager) beginRequest(ring Ring) *request {
	return &request{
		id:      xid.New(),
		ring:    ring,
		members: tier.New[uint32](),
	}
}

// attach makes rq the owner of the object's most recent use. Attaching an
// object that is already a member is a no-op.
func (m *Manager) attach(rq *request, o *bo) {
	if o.rq == rq {
		return
	}
	if o.rq != nil {
		o.rq.members.Remove(o.idx)
		if o.rq.submitted {
			o.prev = o.rq
		}
	}
	o.rq = rq
	rq.members.PushBack(o.idx)
}

// Requests lists the outstanding requests of a ring, oldest first.
func (m *Manager) Requests(ring Ring) []RequestInfo {
	out := make([]RequestInfo, 0, len(m.requests[ring]))
	for _, rq := range m.requests[ring] {
		info := RequestInfo{
			ID:      rq.id.String(),
			Ring:    rq.ring,
			Members: rq.members.Len(),
		}
		if batch, err := m.get(rq.batch); err == nil {
			info.Batch = batch.handle
		}
		out = append(out, info)
	}
	return out
}

// RetireRing retires the completed requests of one ring and returns how
// many were retired. Requests complete in submission order, so the scan
// stops at the first one still busy.
func (m *Manager) RetireRing(ring Ring) int {
	n := 0
	for len(m.requests[ring]) > 0 {
		rq := m.requests[ring][0]
		batch, err := m.get(rq.batch)
		if err != nil {
			Logger().Error("bufmgr: request lost its batch", "request", rq.id, "err", err)
			break
		}
		engines, err := m.k.Busy(batch.handle)
		if err != nil {
			Logger().Warn("bufmgr: busy query failed", "request", rq.id, "err", err)
			break
		}
		if engines.Has(ring) {
			break
		}
		m.requests[ring][0] = nil
		m.requests[ring] = m.requests[ring][1:]
		m.retireRequest(rq, true)
		n++
	}
	m.stats.Retired += n
	return n
}

// Retire retires completed work on every ring and drains the flushing tier.
// It returns the number of requests and flushing objects retired.
func (m *Manager) Retire() int {
	n := 0
	for r := range Ring(kernel.NumRings) {
		n += m.RetireRing(r)
	}
	return n + m.retireFlushing()
}

// retireRequest hands every member of a completed request back to the
// cache and drops the request's reference on its batch. With query set,
// members that still need a flush are checked against the other ring.
func (m *Manager) retireRequest(rq *request, query bool) {
	rq.retired = true
	for idx := range rq.members.All() {
		o := m.objs[idx]
		rq.members.Remove(idx)
		o.rq = nil

		if query && o.needsFlush {
			engines, err := m.k.Busy(o.handle)
			if err == nil && engines.Has(rq.ring.Other()) {
				if o.refcnt == 0 {
					m.link(o, tierFlushing)
				}
				continue
			}
		}
		o.needsFlush = false
		o.domain = DomainNone
		if o.refcnt == 0 {
			m.unlink(o)
			m.dispose(o)
		}
	}
	if batch, err := m.get(rq.batch); err == nil {
		m.unref(batch)
	}
	rq.batch = NoBO
	Logger().Debug("bufmgr: retired request", "request", rq.id, "ring", rq.ring)
}

// retireFlushing releases flushing objects the device is done with. The
// tier is FIFO, so the scan stops at the first busy object.
func (m *Manager) retireFlushing() int {
	n := 0
	for idx := range m.tiers.flushing.All() {
		o := m.objs[idx]
		engines, err := m.k.Busy(o.handle)
		if err != nil || engines != 0 {
			break
		}
		o.needsFlush = false
		o.domain = DomainNone
		m.unlink(o)
		m.dispose(o)
		n++
	}
	return n
}

// wedge marks the device as permanently hung. Every outstanding request is
// completed locally without asking the kernel and the open batch is thrown
// away.
func (m *Manager) wedge(reason string, err error) {
	if !m.wedged {
		Logger().Error("bufmgr: device wedged, disabling submission", "reason", reason, "err", err)
	}
	m.wedged = true

	for r := range Ring(kernel.NumRings) {
		for _, rq := range m.requests[r] {
			m.retireRequest(rq, false)
			m.stats.Retired++
		}
		m.requests[r] = nil
	}
	for idx := range m.tiers.flushing.All() {
		o := m.objs[idx]
		o.needsFlush = false
		o.domain = DomainNone
		m.unlink(o)
		m.dispose(o)
	}
	m.discardBatch()
}

// Wedged reports whether the device has hung. The condition is permanent.
func (m *Manager) Wedged() bool {
	return m.wedged
}

// Throttle asks the kernel to rate-limit outstanding work. A failure means
// the device has hung and wedges the manager.
func (m *Manager) Throttle() error {
	if m.wedged {
		return ErrWedged
	}
	if err := m.k.Throttle(); err != nil {
		m.wedge("throttle", err)
		return ErrWedged
	}
	m.Retire()
	return nil
}

// PreferredRing returns the ring that can use the objects without waiting
// on another ring: the ring of the open batch if any object is in it, else
// the ring an object is still busy on, else the render ring.
func (m *Manager) PreferredRing(bos ...BO) Ring {
	var busy [kernel.NumRings]int
	for _, b := range bos {
		o, _, err := m.resolve(b)
		if err != nil {
			continue
		}
		if o.inBatch() && m.batch.nbatch > 0 {
			return m.batch.ring
		}
		if o.rq != nil && o.rq.submitted {
			busy[o.rq.ring]++
		}
	}
	if busy[RingBlt] > busy[RingRender] && m.params.HasBLT {
		return RingBlt
	}
	return RingRender
}
