// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"errors"
	"testing"
)

func TestBatchStates(t *testing.T) {
	m, _ := newTestManager(t, Config{BatchWords: 64})

	if m.State() != BatchEmpty {
		t.Fatalf("State() = %v, want empty", m.State())
	}
	if !m.CheckSpace(10, 0, 0) {
		t.Fatal("CheckSpace(10) = false on an empty batch")
	}
	if err := m.Emit(make([]uint32, 10)...); err != nil {
		t.Fatal(err)
	}
	if m.State() != BatchAccumulating {
		t.Errorf("State() = %v, want accumulating", m.State())
	}
	if m.Pos() != 10 {
		t.Errorf("Pos() = %d, want 10", m.Pos())
	}

	// 10 used + 2 reserved for the end marker.
	if m.CheckSpace(53, 0, 0) {
		t.Error("CheckSpace(53) = true, want false")
	}
	if m.State() != BatchFull {
		t.Errorf("State() = %v, want full", m.State())
	}
	mustSubmit(t, m)
	if m.State() != BatchEmpty {
		t.Errorf("State() after Submit = %v, want empty", m.State())
	}
}

func TestEmitNeverSplits(t *testing.T) {
	m, _ := newTestManager(t, Config{BatchWords: 64})

	if err := m.Emit(make([]uint32, 60)...); err != nil {
		t.Fatal(err)
	}
	err := m.Emit(1, 2, 3)
	if !errors.Is(err, ErrBatchFull) {
		t.Fatalf("Emit() error = %v, want ErrBatchFull", err)
	}
	if m.Pos() != 60 {
		t.Errorf("Pos() = %d after rejected emit, want 60", m.Pos())
	}
	if m.State() != BatchFull {
		t.Errorf("State() = %v, want full", m.State())
	}
	if err := m.Emit(1, 2); err != nil {
		t.Errorf("Emit() of what fits error = %v", err)
	}
}

func TestCheckSpaceLimits(t *testing.T) {
	tests := []struct {
		name                string
		words, relocs, exec int
		want                bool
	}{
		{"fits", 10, 4, 2, true},
		{"words exactly", 62, 0, 0, true},
		{"words over", 63, 0, 0, false},
		{"relocs exactly", 0, 8, 0, true},
		{"relocs over", 0, 9, 0, false},
		{"exec exactly", 0, 0, 3, true},
		{"exec over", 0, 0, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, Config{BatchWords: 64, MaxRelocs: 8, MaxExec: 4})
			if got := m.CheckSpace(tt.words, tt.relocs, tt.exec); got != tt.want {
				t.Errorf("CheckSpace(%d, %d, %d) = %t, want %t", tt.words, tt.relocs, tt.exec, got, tt.want)
			}
		})
	}
}

func TestExecListFull(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxExec: 3})

	a := mustAcquire(t, m, 4096, TilingNone, 0)
	b := mustAcquire(t, m, 4096, TilingNone, 0)
	c := mustAcquire(t, m, 4096, TilingNone, 0)

	if err := m.EmitReloc(a, AccessRead, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.EmitReloc(b, AccessRead, 0); err != nil {
		t.Fatal(err)
	}
	if m.CheckBOs(c) {
		t.Error("CheckBOs() = true with the execution list full")
	}
	if !m.CheckBOs(a, b) {
		t.Error("CheckBOs() = false for objects already in the batch")
	}
	pos := m.Pos()
	if err := m.EmitReloc(c, AccessRead, 0); !errors.Is(err, ErrBatchFull) {
		t.Errorf("EmitReloc() error = %v, want ErrBatchFull", err)
	}
	if m.Pos() != pos || mustInfo(t, m, c).InBatch {
		t.Error("rejected relocation changed the batch")
	}

	mustSubmit(t, m)
	if err := m.EmitReloc(c, AccessRead, 0); err != nil {
		t.Errorf("EmitReloc() after Submit error = %v", err)
	}
	m.Release(a)
	m.Release(b)
	m.Release(c)
}

func TestCheckBOsAperture(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.limits.aperturePages = 8

	a := mustAcquire(t, m, 6*4096, TilingNone, 0)
	b := mustAcquire(t, m, 4*4096, TilingNone, 0)
	if !m.CheckBOs(a) {
		t.Fatal("CheckBOs(a) = false")
	}
	if m.CheckBOs(a, b) {
		t.Error("CheckBOs(a, b) = true beyond the aperture budget")
	}
	m.Release(a)
	m.Release(b)
}

func TestAllocState(t *testing.T) {
	m, _ := newTestManager(t, Config{BatchWords: 128})

	pos, words, err := m.AllocState(10)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 112 || len(words) != 10 {
		t.Errorf("AllocState(10) = %d, %d words; want 112, 10", pos, len(words))
	}
	pos2, _, err := m.AllocState(8)
	if err != nil {
		t.Fatal(err)
	}
	if pos2 != 96 {
		t.Errorf("second AllocState = %d, want 96", pos2)
	}

	// Commands may grow up to the state region minus the reserve.
	if !m.CheckSpace(94, 0, 0) || m.CheckSpace(95, 0, 0) {
		t.Error("CheckSpace does not respect the state region")
	}
	if err := m.Emit(make([]uint32, 90)...); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.AllocState(16); !errors.Is(err, ErrBatchFull) {
		t.Errorf("AllocState into commands error = %v, want ErrBatchFull", err)
	}
}

func TestRelocateResolution(t *testing.T) {
	m, k := newTestManager(t, Config{})

	a := mustAcquire(t, m, 4096, TilingNone, 0)
	pos := m.Pos()
	m.Emit(0)
	v, err := m.Relocate(pos, a, AccessRead, 0x10)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x10 {
		t.Errorf("unplaced object value = %#x, want the bare delta", v)
	}
	mustSubmit(t, m)

	addr := k.Address(mustInfo(t, m, a).Handle)
	if got := mustInfo(t, m, a).Address; got != addr {
		t.Errorf("presumed address = %#x, want %#x", got, addr)
	}

	pos = m.Pos()
	m.Emit(0)
	v, err = m.Relocate(pos, a, AccessRead, 0x10)
	if err != nil {
		t.Fatal(err)
	}
	if v != uint32(addr)+0x10 {
		t.Errorf("placed object value = %#x, want %#x", v, uint32(addr)+0x10)
	}
	if err := m.Discard(); err != nil {
		t.Fatal(err)
	}
	k.CompleteAll()
	m.Retire()
	m.Release(a)
}

func TestRelocateBounds(t *testing.T) {
	m, _ := newTestManager(t, Config{BatchWords: 64})

	a := mustAcquire(t, m, 4096, TilingNone, 0)
	m.Emit(1, 2)
	for _, pos := range []int{-1, 3, 40, 64} {
		if _, err := m.Relocate(pos, a, AccessRead, 0); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Relocate(%d) error = %v, want ErrInvalidSize", pos, err)
		}
	}
	m.Release(a)
}

func TestRelocateWriteMarksDirty(t *testing.T) {
	m, k := newTestManager(t, Config{})

	a := mustAcquire(t, m, 4096, TilingNone, 0)
	emitReloc(t, m, a, AccessWrite)
	info := mustInfo(t, m, a)
	if !info.Dirty || !info.NeedsFlush {
		t.Errorf("dirty/needsFlush = %t/%t, want true/true", info.Dirty, info.NeedsFlush)
	}
	mustSubmit(t, m)
	info = mustInfo(t, m, a)
	if info.Dirty || info.Domain != DomainGPU {
		t.Errorf("after submit dirty = %t domain = %v, want false/gpu", info.Dirty, info.Domain)
	}
	k.CompleteAll()
	m.Retire()
	info = mustInfo(t, m, a)
	if info.NeedsFlush || info.Domain != DomainNone {
		t.Errorf("after retire needsFlush = %t domain = %v, want false/none", info.NeedsFlush, info.Domain)
	}
	m.Release(a)
}
