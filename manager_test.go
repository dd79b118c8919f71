// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/gogpu/bufmgr/kernel"
	"github.com/gogpu/bufmgr/kernel/fake"
)

func TestNewErrors(t *testing.T) {
	if _, err := New(nil, Config{}); !errors.Is(err, kernel.ErrNoDevice) {
		t.Errorf("New(nil) error = %v, want ErrNoDevice", err)
	}

	ctrl := gomock.NewController(t)
	k := NewMockKernel(ctrl)
	k.EXPECT().Params().Return(kernel.Params{}, kernel.ErrNoDevice)
	if _, err := New(k, Config{}); !errors.Is(err, kernel.ErrNoDevice) {
		t.Errorf("New() error = %v, want the Params error", err)
	}
}

func TestClose(t *testing.T) {
	m, k := newTestManager(t, Config{})

	held := mustAcquire(t, m, 4096, TilingNone, 0)
	cached := mustAcquire(t, m, 8192, TilingNone, 0)
	m.Release(cached)
	if _, err := m.Map(held, MapCPU); err != nil {
		t.Fatal(err)
	}
	h := mustInfo(t, m, held).Handle

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := k.Live(); got != 0 {
		t.Errorf("kernel objects after Close = %d, want 0", got)
	}
	if k.Exists(h) {
		t.Error("held object survived Close")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := m.Acquire(4096, TilingNone, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close error = %v, want ErrClosed", err)
	}
	if err := m.Submit(); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close error = %v, want ErrClosed", err)
	}
}

func TestWriteRead(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	b := mustAcquire(t, m, 4096, TilingNone, 0)
	if err := m.Write(b, 100, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	p, err := m.Proxy(b, 96, 64)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if err := m.Read(p, 4, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("Read(proxy) = %q, want hello", got)
	}

	tests := []struct {
		name   string
		bo     BO
		offset int
		n      int
	}{
		{"negative", b, -1, 1},
		{"past end", b, 4090, 8},
		{"past proxy", p, 60, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Write(tt.bo, tt.offset, make([]byte, tt.n)); !errors.Is(err, ErrInvalidSize) {
				t.Errorf("Write() error = %v, want ErrInvalidSize", err)
			}
			if err := m.Read(tt.bo, tt.offset, make([]byte, tt.n)); !errors.Is(err, ErrInvalidSize) {
				t.Errorf("Read() error = %v, want ErrInvalidSize", err)
			}
		})
	}
	m.Release(p)
	m.Release(b)
}

func TestWriteWaitsForDevice(t *testing.T) {
	m, k := newTestManager(t, Config{})

	b := mustAcquire(t, m, 4096, TilingNone, 0)
	emitReloc(t, m, b, AccessWrite)
	mustSubmit(t, m)
	if !mustInfo(t, m, b).InFlight {
		t.Fatal("b not in flight")
	}

	if err := m.Write(b, 0, []byte{1}); err != nil {
		t.Fatal(err)
	}
	info := mustInfo(t, m, b)
	if info.InFlight || info.Domain != DomainCPU {
		t.Errorf("after write in flight = %t domain = %v, want false/cpu", info.InFlight, info.Domain)
	}
	if got := k.Outstanding(RingRender); got != 0 {
		t.Errorf("kernel outstanding = %d, want 0", got)
	}
	m.Release(b)
}

func TestSyncCPUSubmitsOpenBatch(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	b := mustAcquire(t, m, 4096, TilingNone, 0)
	emitRead(t, m, b)
	if err := m.SyncCPU(b, false); err != nil {
		t.Fatal(err)
	}
	if got := m.Stats().Submits; got != 1 {
		t.Errorf("Submits = %d, want 1", got)
	}
	if mustInfo(t, m, b).InBatch {
		t.Error("b still in the open batch")
	}
	m.Release(b)
}

func TestSetSnoop(t *testing.T) {
	m, k := newTestManager(t, Config{})

	b := mustAcquire(t, m, 4096, TilingNone, 0)
	if err := m.SetSnoop(b, true); err != nil {
		t.Fatal(err)
	}
	if !k.Snooped(mustInfo(t, m, b).Handle) || !mustInfo(t, m, b).Snoop {
		t.Error("object not snooped")
	}

	scanout := mustAcquire(t, m, 4096, TilingNone, CreateScanout)
	if err := m.SetSnoop(scanout, true); !errors.Is(err, kernel.ErrNotSupported) {
		t.Errorf("SetSnoop(scanout) error = %v, want ErrNotSupported", err)
	}
	p, _ := m.Proxy(b, 0, 64)
	if err := m.SetSnoop(p, false); !errors.Is(err, ErrProxy) {
		t.Errorf("SetSnoop(proxy) error = %v, want ErrProxy", err)
	}
	m.Release(p)
	m.Release(b)
	m.Release(scanout)
}

func TestStatsString(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	b := mustAcquire(t, m, 4096, TilingNone, 0)
	s := m.Stats()
	if s.Live != 1 || s.Allocations != 1 {
		t.Errorf("live/alloc = %d/%d, want 1/1", s.Live, s.Allocations)
	}
	if str := s.String(); !strings.Contains(str, "live=1") {
		t.Errorf("String() = %q", str)
	}
	m.Release(b)
}

// expectHungSubmit sets up a mock kernel for one object and one batch whose
// execution fails. The object is cached on Release and freed by Close.
func expectHungSubmit(k *MockKernel) {
	const obj, batchObj kernel.Handle = 1, 2
	k.EXPECT().Params().Return(fake.DefaultParams(), nil)
	k.EXPECT().Create(uint64(kernel.PageSize), gomock.Any()).Return(obj, nil)
	k.EXPECT().Create(uint64(kernel.PageSize), gomock.Any()).Return(batchObj, nil)
	k.EXPECT().Write(batchObj, uint64(0), gomock.Any()).Return(nil)
	k.EXPECT().Destroy(batchObj).Return(nil)
	k.EXPECT().Madvise(obj, true).Return(true, nil)
	k.EXPECT().Destroy(obj).Return(nil)
}

func TestSubmitHangWithMock(t *testing.T) {
	tests := []struct {
		name    string
		execute func(k *MockKernel)
		want    error
	}{
		{
			name: "io error",
			execute: func(k *MockKernel) {
				k.EXPECT().Execute(gomock.Any()).Return(kernel.ErrIO)
			},
			want: kernel.ErrIO,
		},
		{
			name: "throttle fails while busy",
			execute: func(k *MockKernel) {
				k.EXPECT().Execute(gomock.Any()).Return(kernel.ErrBusy)
				k.EXPECT().Throttle().Return(kernel.ErrIO)
			},
			want: kernel.ErrIO,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			k := NewMockKernel(ctrl)
			expectHungSubmit(k)
			tt.execute(k)

			m, err := New(k, Config{})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { m.Close() })

			b := mustAcquire(t, m, 4096, TilingNone, 0)
			emitRead(t, m, b)
			err = m.Submit()
			if !errors.Is(err, ErrWedged) || !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want ErrWedged wrapping %v", err, tt.want)
			}
			m.Release(b)
		})
	}
}
