// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"fmt"
	"time"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// noAddress marks an object the kernel has not placed yet.
const noAddress = 0

// bo is one slot of the object arena.
type bo struct {
	idx  uint32
	gen  uint32
	live bool

	// id is unique over the life of the manager, unlike idx.
	id     uint64
	handle kernel.Handle

	pages  int
	size   int
	tiling Tiling
	pitch  int
	domain Domain
	refcnt int

	purged     bool
	reusable   bool
	needsFlush bool
	scanout    bool
	snoop      bool
	dirty      bool

	mapKind MapKind
	mem     []byte

	// proxy state: target is the arena slot of the aliased object and
	// offset the start of the alias inside it.
	proxy     bool
	target    BO
	offset    int
	proxyUser *partial

	presumed uint64
	rq       *request
	exec     int

	// prev is the submitted request rq replaced, restored if the open
	// batch is discarded.
	prev *request

	tier     tierRef
	lastUsed time.Time
}

// bucket returns the size class of the object.
func (o *bo) bucket() int {
	return tier.Bucket(o.pages)
}

// ref returns the external handle of the slot.
func (o *bo) ref() BO {
	return makeBO(o.idx, o.gen)
}

// inBatch reports whether the object is on the open batch's exec list.
func (o *bo) inBatch() bool {
	return o.exec >= 0
}

// get resolves a handle, validating the slot generation. Objects whose
// last reference is gone belong to the cache and are invalid to clients.
func (m *Manager) get(b BO) (*bo, error) {
	idx := b.index()
	if b == NoBO || int(idx) >= len(m.objs) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBO, b)
	}
	o := m.objs[idx]
	if !o.live || o.gen != b.gen() || o.refcnt == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBO, b)
	}
	return o, nil
}

// resolve follows a proxy to the object owning kernel memory and returns
// it with the byte offset of the alias.
func (m *Manager) resolve(b BO) (*bo, int, error) {
	o, err := m.get(b)
	if err != nil {
		return nil, 0, err
	}
	if !o.proxy {
		return o, 0, nil
	}
	t, err := m.get(o.target)
	if err != nil {
		return nil, 0, fmt.Errorf("proxy %v: target: %w", b, err)
	}
	return t, o.offset, nil
}

// newSlot takes a free arena slot and initializes it.
func (m *Manager) newSlot() *bo {
	var o *bo
	if n := len(m.free); n > 0 {
		o = m.objs[m.free[n-1]]
		m.free = m.free[:n-1]
		*o = bo{idx: o.idx, gen: nextGen(o.gen)}
	} else {
		o = &bo{idx: uint32(len(m.objs)), gen: 1}
		m.objs = append(m.objs, o)
	}
	m.nextID++
	o.id = m.nextID
	o.live = true
	o.refcnt = 1
	o.exec = -1
	o.reusable = true
	o.lastUsed = m.cfg.Clock()
	return o
}

func nextGen(gen uint32) uint32 {
	if gen++; gen == 0 {
		gen = 1
	}
	return gen
}

// freeSlot returns a slot to the arena. The object must be unlinked from
// every list.
func (m *Manager) freeSlot(o *bo) {
	o.live = false
	o.mem = nil
	o.rq = nil
	o.prev = nil
	m.free = append(m.free, o.idx)
}

// Ref takes an additional reference on an object.
func (m *Manager) Ref(b BO) error {
	o, err := m.get(b)
	if err != nil {
		return err
	}
	o.refcnt++
	return nil
}

// Release drops one reference. At zero the object goes back to the cache
// tiers, or is destroyed when it cannot be reused; an object still used by
// a submitted batch stays alive until that batch retires.
func (m *Manager) Release(b BO) error {
	o, err := m.get(b)
	if err != nil {
		return err
	}
	m.unref(o)
	return nil
}

// Destroy drops one reference and prevents the object from being cached.
// The memory is freed once the last reference is gone and the device no
// longer uses it.
func (m *Manager) Destroy(b BO) error {
	o, err := m.get(b)
	if err != nil {
		return err
	}
	o.reusable = false
	m.unref(o)
	return nil
}

func (m *Manager) unref(o *bo) {
	if o.refcnt <= 0 {
		Logger().Warn("bufmgr: release of unreferenced object", "bo", o.ref())
		return
	}
	o.refcnt--
	if o.refcnt == 0 {
		m.dispose(o)
	}
}

// Proxy creates an alias of length bytes starting at offset inside target.
// The proxy holds a reference on the target until it is released, and
// relocations against it are forwarded to the target.
func (m *Manager) Proxy(target BO, offset, length int) (BO, error) {
	if m.closed {
		return NoBO, ErrClosed
	}
	t, base, err := m.resolve(target)
	if err != nil {
		return NoBO, err
	}
	if offset < 0 || length <= 0 || base+offset+length > t.pages*kernel.PageSize {
		return NoBO, fmt.Errorf("%w: proxy [%d,%d) of %d bytes", ErrInvalidSize, offset, offset+length, t.size)
	}

	t.refcnt++
	p := m.newSlot()
	p.proxy = true
	p.reusable = false
	p.target = t.ref()
	p.offset = base + offset
	p.size = length
	p.pages = tier.PagesFor(length, kernel.PageSize)
	p.tiling = t.tiling
	p.pitch = t.pitch
	return p.ref(), nil
}

// destroyProxy frees a proxy slot and drops its reference on the target.
func (m *Manager) destroyProxy(o *bo) {
	if o.rq != nil {
		o.rq.members.Remove(o.idx)
	}
	if o.proxyUser != nil {
		o.proxyUser.live--
	}
	target := o.target
	m.freeSlot(o)
	if t, err := m.get(target); err == nil {
		m.unref(t)
	}
}

// Export marks an object as visible outside the manager and returns its
// kernel handle. Shared objects are never recycled through the cache.
func (m *Manager) Export(b BO) (kernel.Handle, error) {
	o, _, err := m.resolve(b)
	if err != nil {
		return 0, err
	}
	o.reusable = false
	return o.handle, nil
}

// Info describes one buffer object.
type Info struct {
	ID         uint64
	Handle     kernel.Handle
	Size       int
	Pages      int
	Tiling     Tiling
	Pitch      int
	Domain     Domain
	Refcount   int
	Purged     bool
	Reusable   bool
	NeedsFlush bool
	Scanout    bool
	Snoop      bool
	Dirty      bool
	Proxy      bool
	Target     BO
	Offset     int
	Mapped     MapKind
	Address    uint64
	InFlight   bool
	InBatch    bool
}

// Info returns a snapshot of an object's state.
func (m *Manager) Info(b BO) (Info, error) {
	o, err := m.get(b)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		ID:         o.id,
		Handle:     o.handle,
		Size:       o.size,
		Pages:      o.pages,
		Tiling:     o.tiling,
		Pitch:      o.pitch,
		Domain:     o.domain,
		Refcount:   o.refcnt,
		Purged:     o.purged,
		Reusable:   o.reusable,
		NeedsFlush: o.needsFlush,
		Scanout:    o.scanout,
		Snoop:      o.snoop,
		Dirty:      o.dirty,
		Proxy:      o.proxy,
		Mapped:     o.mapKind,
		Address:    o.presumed,
		InFlight:   o.rq != nil && o.rq.submitted,
		InBatch:    o.inBatch(),
	}
	if o.proxy {
		info.Target = o.target
		info.Offset = o.offset
		if t, err := m.get(o.target); err == nil {
			info.Handle = t.handle
			info.Domain = t.domain
			info.Address = t.presumed
			info.InFlight = t.rq != nil && t.rq.submitted
			info.InBatch = t.inBatch()
		}
	}
	return info, nil
}

// Busy reports whether the device may still be using the object. It asks
// the kernel without blocking and retires the object's request if it has
// completed.
func (m *Manager) Busy(b BO) (bool, error) {
	o, _, err := m.resolve(b)
	if err != nil {
		return false, err
	}
	if o.inBatch() {
		return true, nil
	}
	if o.rq == nil {
		return false, nil
	}
	engines, err := m.k.Busy(o.handle)
	if err != nil {
		return true, fmt.Errorf("busy query: %w", err)
	}
	if engines == 0 {
		m.RetireRing(o.rq.ring)
	}
	return engines != 0, nil
}
