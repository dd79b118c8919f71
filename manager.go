// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"errors"
	"fmt"

	"github.com/gogpu/bufmgr/kernel"
	"github.com/gogpu/bufmgr/tiling"
)

//go:generate mockgen -destination=mock_kernel_test.go -package=bufmgr github.com/gogpu/bufmgr/kernel Kernel

// Manager owns every buffer object of one device: the object arena, the
// cache tiers, the outstanding requests and the open batch.
//
// Manager is not safe for concurrent use. It spawns no goroutines and only
// blocks in SyncCPU (and Read/Write of in-flight objects) when the device
// still uses the object. Clients sharing a Manager across goroutines must
// serialize all calls with a single lock.
type Manager struct {
	k      kernel.Kernel
	params kernel.Params
	cfg    Config
	limits limits
	policy tiling.Policy

	objs   []*bo
	free   []uint32
	nextID uint64

	tiers       tiers
	cachedPages int
	maps        [numMapKinds]*mapCache

	requests [kernel.NumRings][]*request
	batch    batch
	partials []*partial

	wedged bool
	closed bool

	stats counters
}

// New creates a manager for the device behind k. The device parameters are
// queried once and drive every size threshold and layout rule.
func New(k kernel.Kernel, cfg Config) (*Manager, error) {
	if k == nil {
		return nil, fmt.Errorf("bufmgr: new: %w", kernel.ErrNoDevice)
	}
	params, err := k.Params()
	if err != nil {
		return nil, fmt.Errorf("bufmgr: query device parameters: %w", err)
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		k:      k,
		params: params,
		cfg:    cfg,
		limits: deriveLimits(params, cfg),
		policy: tiling.NewPolicy(params),
		tiers:  newTiers(),
		batch:  newBatch(cfg),
	}
	m.maps[MapCPU] = newMapCache(cfg.MaxCPUMappings)
	m.maps[MapDevice] = newMapCache(cfg.MaxDeviceMappings)
	m.batch.rq = m.beginRequest(RingRender)

	Logger().Info("bufmgr: initialized",
		"gen", params.Gen,
		"aperture", params.ApertureTotal,
		"mappable", params.ApertureMappable,
		"llc", params.HasLLC,
		"snoop", params.HasSnoop,
		"blt", params.HasBLT,
		"maxObject", m.limits.maxObjectSize,
		"largePages", m.limits.largePages,
		"cacheHighPages", m.limits.cacheHighPages)
	return m, nil
}

// Params returns the device parameters queried at New.
func (m *Manager) Params() kernel.Params {
	return m.params
}

// Policy returns the device's tiling policy.
func (m *Manager) Policy() tiling.Policy {
	return m.policy
}

// Close discards the open batch and frees every object the manager still
// holds, including objects clients have not released. Work already
// submitted is left to the kernel. Close is idempotent.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.Retire()
	for _, p := range m.partials {
		m.releasePartial(p)
	}
	m.partials = nil
	m.discardBatch()

	var errs []error
	n := 0
	for _, o := range m.objs {
		if !o.live || o.proxy {
			continue
		}
		m.unlink(o)
		if o.mapKind != mapNone {
			m.unmap(o)
		}
		if err := m.k.Destroy(o.handle); err != nil {
			errs = append(errs, fmt.Errorf("destroy %v: %w", o.ref(), err))
		}
		n++
	}
	m.objs, m.free = nil, nil
	for r := range m.requests {
		m.requests[r] = nil
	}
	m.closed = true

	Logger().Info("bufmgr: closed", "destroyed", n, "submits", m.stats.Submits)
	return errors.Join(errs...)
}

// Write copies data into an object at offset. Writing an object a submitted
// batch still uses waits for the device first.
func (m *Manager) Write(b BO, offset int, data []byte) error {
	o, base, length, err := m.access(b, offset, len(data))
	if err != nil {
		return err
	}
	if o.rq != nil && o.rq.submitted {
		if err := m.SyncCPU(b, true); err != nil {
			return err
		}
	}
	if err := m.k.Write(o.handle, uint64(base+offset), data[:length]); err != nil {
		return fmt.Errorf("write %v: %w", b, err)
	}
	return nil
}

// Read copies object contents at offset into data. Reading an object a
// submitted batch still uses waits for the device first.
func (m *Manager) Read(b BO, offset int, data []byte) error {
	o, base, length, err := m.access(b, offset, len(data))
	if err != nil {
		return err
	}
	if o.rq != nil && o.rq.submitted {
		if err := m.SyncCPU(b, false); err != nil {
			return err
		}
	}
	if err := m.k.Read(o.handle, uint64(base+offset), data[:length]); err != nil {
		return fmt.Errorf("read %v: %w", b, err)
	}
	return nil
}

// access resolves b for a CPU transfer of n bytes at offset, checking the
// range against the object (or proxy) size.
func (m *Manager) access(b BO, offset, n int) (*bo, int, int, error) {
	if m.closed {
		return nil, 0, 0, ErrClosed
	}
	p, err := m.get(b)
	if err != nil {
		return nil, 0, 0, err
	}
	if offset < 0 || offset+n > p.size {
		return nil, 0, 0, fmt.Errorf("%w: [%d,%d) of %d bytes", ErrInvalidSize, offset, offset+n, p.size)
	}
	o, base, err := m.resolve(b)
	if err != nil {
		return nil, 0, 0, err
	}
	return o, base, n, nil
}

// SyncCPU moves an object into the CPU domain for reading, or writing when
// write is set. An object in the open batch is submitted first. This is the
// only call that blocks on the device.
func (m *Manager) SyncCPU(b BO, write bool) error {
	o, _, err := m.resolve(b)
	if err != nil {
		return err
	}
	if o.inBatch() {
		if err := m.Submit(); err != nil && !errors.Is(err, ErrWedged) {
			return err
		}
	}
	if o.domain == DomainCPU && o.rq == nil {
		return nil
	}

	wd := DomainNone
	if write {
		wd = DomainCPU
	}
	if err := m.k.SetDomain(o.handle, DomainCPU, wd); err != nil {
		return fmt.Errorf("sync %v: %w", b, err)
	}
	o.domain = DomainCPU
	if o.rq != nil {
		m.RetireRing(o.rq.ring)
	}
	return nil
}

// SetSnoop switches an object between snooped and uncached CPU access.
// Scanout objects cannot be snooped.
func (m *Manager) SetSnoop(b BO, snoop bool) error {
	o, err := m.get(b)
	if err != nil {
		return err
	}
	if o.proxy {
		return fmt.Errorf("set snoop: %w", ErrProxy)
	}
	if snoop && (o.scanout || !m.params.HasSnoop) {
		return fmt.Errorf("snoop %v: %w", b, kernel.ErrNotSupported)
	}
	if o.snoop == snoop {
		return nil
	}
	if err := m.k.SetCaching(o.handle, snoop); err != nil {
		return fmt.Errorf("set snoop %v: %w", b, err)
	}
	o.snoop = snoop
	return nil
}
