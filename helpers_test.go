// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
	"github.com/gogpu/bufmgr/kernel/fake"
)

// newTestManager creates a manager over a fake device with default
// parameters.
func newTestManager(t *testing.T, cfg Config) (*Manager, *fake.Kernel) {
	t.Helper()
	return newTestManagerParams(t, fake.DefaultParams(), cfg)
}

func newTestManagerParams(t *testing.T, params kernel.Params, cfg Config) (*Manager, *fake.Kernel) {
	t.Helper()
	k := fake.New(params)
	m, err := New(k, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		checkTiers(t, m)
		if err := m.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return m, k
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// mustAcquire acquires an object or fails the test.
func mustAcquire(t *testing.T, m *Manager, size int, tiling Tiling, flags CreateFlags) BO {
	t.Helper()
	b, err := m.Acquire(size, tiling, flags)
	if err != nil {
		t.Fatalf("Acquire(%d, %v, %#x) error = %v", size, tiling, flags, err)
	}
	return b
}

// mustInfo returns an object's info or fails the test.
func mustInfo(t *testing.T, m *Manager, b BO) Info {
	t.Helper()
	info, err := m.Info(b)
	if err != nil {
		t.Fatalf("Info(%v) error = %v", b, err)
	}
	return info
}

// emitRead appends one command word and a read relocation against b.
func emitRead(t *testing.T, m *Manager, b BO) {
	t.Helper()
	emitReloc(t, m, b, AccessRead)
}

func emitReloc(t *testing.T, m *Manager, b BO, access uint32) {
	t.Helper()
	if !m.CheckSpace(2, 1, 1) || !m.CheckBOs(b) {
		t.Fatalf("no space for a relocation against %v", b)
	}
	if err := m.Emit(0x7a000003); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if err := m.EmitReloc(b, access, 0); err != nil {
		t.Fatalf("EmitReloc(%v) error = %v", b, err)
	}
}

func mustSubmit(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}

// batchWord reads dword i of the last submitted batch on ring r.
func batchWord(t *testing.T, m *Manager, k *fake.Kernel, r Ring, i int) uint32 {
	t.Helper()
	reqs := m.Requests(r)
	if len(reqs) == 0 {
		t.Fatalf("no outstanding request on %v", r)
	}
	mem := k.Memory(reqs[len(reqs)-1].Batch)
	return binary.LittleEndian.Uint32(mem[i*4:])
}

// checkTiers verifies that every object is on at most one cache list and
// that the list agrees with the object's own record.
func checkTiers(t *testing.T, m *Manager) {
	t.Helper()
	if m.closed {
		return
	}
	seen := make(map[uint32]tierKind)
	visit := func(kind tierKind, l *tier.List[uint32]) {
		for idx := range l.All() {
			if prev, ok := seen[idx]; ok {
				t.Errorf("object %d on both %v and %v", idx, prev, kind)
			}
			seen[idx] = kind
			o := m.objs[idx]
			if !o.live {
				t.Errorf("dead object %d on %v", idx, kind)
			}
			if o.tier.kind != kind {
				t.Errorf("object %d on %v but records %v", idx, kind, o.tier.kind)
			}
		}
	}
	for b := range m.tiers.inactive {
		visit(tierInactive, m.tiers.inactive[b])
		for _, l := range m.tiers.active[b] {
			visit(tierActive, l)
		}
	}
	visit(tierLarge, m.tiers.large)
	visit(tierLargeInactive, m.tiers.largeInactive)
	visit(tierSnoop, m.tiers.snoop)
	visit(tierFlushing, m.tiers.flushing)

	for _, o := range m.objs {
		if o.live && o.tier.kind != tierNone {
			if _, ok := seen[o.idx]; !ok {
				t.Errorf("object %d records %v but is on no list", o.idx, o.tier.kind)
			}
		}
	}
}
