// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package halkernel implements kernel.Kernel on top of a gogpu/wgpu HAL
// device and queue.
//
// The HAL has no execbuffer, relocations, tiling or purgeable memory, so
// the backend emulates them:
//
//   - device addresses are assigned by a bump allocator on first execution
//     and stale relocations are patched into the batch with queue writes
//   - every submission signals a per-ring fence, which gives the
//     non-blocking busy query and the blocking domain change
//   - mappings are CPU shadows written to the buffer before each
//     submission and on Unmap, and refreshed from it on a CPU domain change
//   - buffers are always linear; tiling requests are answered with
//     TilingNone
//
// The command words themselves are not interpreted. The backend exists to
// drive the manager against real device memory and queue completion.
package halkernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/bufmgr/kernel"
)

// ErrNotHAL is returned by FromProvider when the provider does not expose
// HAL device and queue objects.
var ErrNotHAL = errors.New("halkernel: provider does not expose HAL types")

const firstAddress = 1 << 16

// Options configures the backend.
type Options struct {
	// Params is reported to the manager. Zero fields take defaults
	// describing a single-queue, cache-coherent device.
	Params kernel.Params

	// Timeout bounds blocking fence waits. Defaults to 5 seconds.
	Timeout time.Duration

	// MaxInFlight is the number of submissions per ring Throttle allows
	// before it waits. Defaults to 8.
	MaxInFlight uint64
}

func (o Options) withDefaults() Options {
	p := &o.Params
	if p.Gen == 0 {
		p.Gen = 90
		p.HasLLC = true
		p.HasRelaxedFencing = true
	}
	if p.ApertureTotal == 0 {
		p.ApertureTotal = 4 << 30
	}
	if p.ApertureMappable == 0 {
		p.ApertureMappable = 256 << 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxInFlight == 0 {
		o.MaxInFlight = 8
	}
	return o
}

type object struct {
	buf     hal.Buffer
	size    uint64
	usage   gputypes.BufferUsage
	address uint64
	snoop   bool

	// shadow is the CPU copy handed out by MapCPU/MapDevice.
	shadow []byte
	maps   int

	// pending is the fence value of the last submission per ring that
	// used the object.
	pending [kernel.NumRings]uint64
}

// Kernel is a kernel.Kernel over a HAL device. It does not own the device.
type Kernel struct {
	device hal.Device
	queue  hal.Queue
	opts   Options

	objects  map[kernel.Handle]*object
	next     kernel.Handle
	nextAddr uint64

	fences    [kernel.NumRings]hal.Fence
	submitted [kernel.NumRings]uint64
	completed [kernel.NumRings]uint64
}

// New creates a backend over device and queue.
func New(device hal.Device, queue hal.Queue, opts Options) (*Kernel, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("halkernel: %w", kernel.ErrNoDevice)
	}
	k := &Kernel{
		device:   device,
		queue:    queue,
		opts:     opts.withDefaults(),
		objects:  make(map[kernel.Handle]*object),
		next:     1,
		nextAddr: firstAddress,
	}
	for r := range k.fences {
		f, err := device.CreateFence()
		if err != nil {
			k.Close()
			return nil, fmt.Errorf("halkernel: create fence: %w", err)
		}
		k.fences[r] = f
	}
	slogger().Info("halkernel: ready", "gen", k.opts.Params.Gen, "aperture", k.opts.Params.ApertureTotal)
	return k, nil
}

// FromProvider creates a backend sharing the device of a gpucontext
// provider. The provider must implement HalDevice() any and HalQueue() any.
func FromProvider(provider gpucontext.DeviceProvider, opts Options) (*Kernel, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHAL)
	}
	return New(device, queue, opts)
}

// Close waits for outstanding work and destroys every buffer and fence the
// backend created. The device itself is left to its owner.
func (k *Kernel) Close() {
	for r := range kernel.Ring(kernel.NumRings) {
		if err := k.waitRing(r, k.submitted[r]); err != nil {
			slogger().Warn("halkernel: close: wait failed", "ring", r, "err", err)
		}
	}
	for h, o := range k.objects {
		k.device.DestroyBuffer(o.buf)
		delete(k.objects, h)
	}
	for r, f := range k.fences {
		if f != nil {
			k.device.DestroyFence(f)
			k.fences[r] = nil
		}
	}
}

func (k *Kernel) lookup(h kernel.Handle) (*object, error) {
	o, ok := k.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", kernel.ErrInvalidHandle, h)
	}
	return o, nil
}

// signaled reports whether the ring fence reached value without blocking.
func (k *Kernel) signaled(r kernel.Ring, value uint64) (bool, error) {
	if value <= k.completed[r] {
		return true, nil
	}
	ok, err := k.device.Wait(k.fences[r], value, 0)
	if err != nil {
		return false, fmt.Errorf("%w: fence query: %w", kernel.ErrIO, err)
	}
	if ok {
		k.completed[r] = value
	}
	return ok, nil
}

// waitRing blocks until the ring fence reaches value.
func (k *Kernel) waitRing(r kernel.Ring, value uint64) error {
	if value <= k.completed[r] || k.fences[r] == nil {
		return nil
	}
	ok, err := k.device.Wait(k.fences[r], value, k.opts.Timeout)
	if err != nil {
		return fmt.Errorf("%w: fence wait: %w", kernel.ErrIO, err)
	}
	if !ok {
		return fmt.Errorf("%w: %v ring timed out after %v", kernel.ErrIO, r, k.opts.Timeout)
	}
	k.completed[r] = value
	return nil
}

func (k *Kernel) checkRange(o *object, offset uint64, n int) error {
	if offset+uint64(n) > o.size {
		return fmt.Errorf("halkernel: range [%d,%d) beyond object size %d", offset, offset+uint64(n), o.size)
	}
	return nil
}

// Params implements kernel.Kernel.
func (k *Kernel) Params() (kernel.Params, error) {
	return k.opts.Params, nil
}

// Create implements kernel.Kernel.
func (k *Kernel) Create(size uint64, usage gputypes.BufferUsage) (kernel.Handle, error) {
	if size == 0 {
		return 0, fmt.Errorf("halkernel: create: zero size")
	}
	size = (size + kernel.PageSize - 1) &^ (kernel.PageSize - 1)
	if limit := k.opts.Params.MaxObjectSize; limit != 0 && size > limit {
		return 0, kernel.ErrNoMemory
	}
	buf, err := k.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bufmgr",
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: create buffer: %w", kernel.ErrNoMemory, err)
	}
	h := k.next
	k.next++
	k.objects[h] = &object{buf: buf, size: size, usage: usage}
	return h, nil
}

// Destroy implements kernel.Kernel. The buffer is released immediately;
// the manager never destroys an object the device still uses.
func (k *Kernel) Destroy(h kernel.Handle) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	k.device.DestroyBuffer(o.buf)
	delete(k.objects, h)
	return nil
}

// SetTiling implements kernel.Kernel. HAL buffers are linear.
func (k *Kernel) SetTiling(h kernel.Handle, _ kernel.Tiling, _ uint32) (kernel.Tiling, uint32, error) {
	if _, err := k.lookup(h); err != nil {
		return kernel.TilingNone, 0, err
	}
	return kernel.TilingNone, 0, nil
}

// Busy implements kernel.Kernel.
func (k *Kernel) Busy(h kernel.Handle) (kernel.Engines, error) {
	o, err := k.lookup(h)
	if err != nil {
		return 0, err
	}
	var e kernel.Engines
	for r := range kernel.Ring(kernel.NumRings) {
		done, err := k.signaled(r, o.pending[r])
		if err != nil {
			return 0, err
		}
		if !done {
			e |= kernel.EngineOf(r)
		}
	}
	return e, nil
}

// Write implements kernel.Kernel.
func (k *Kernel) Write(h kernel.Handle, offset uint64, data []byte) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if err := k.checkRange(o, offset, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	k.queue.WriteBuffer(o.buf, offset, data)
	if o.shadow != nil {
		copy(o.shadow[offset:], data)
	}
	return nil
}

// Read implements kernel.Kernel.
func (k *Kernel) Read(h kernel.Handle, offset uint64, data []byte) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if err := k.checkRange(o, offset, len(data)); err != nil {
		return err
	}
	if err := k.waitObject(o); err != nil {
		return err
	}
	if err := k.queue.ReadBuffer(o.buf, offset, data); err != nil {
		return fmt.Errorf("halkernel: read: %w", err)
	}
	return nil
}

// MapCPU implements kernel.Kernel.
func (k *Kernel) MapCPU(h kernel.Handle) ([]byte, error) {
	o, err := k.lookup(h)
	if err != nil {
		return nil, err
	}
	return k.mapShadow(o)
}

// MapDevice implements kernel.Kernel.
func (k *Kernel) MapDevice(h kernel.Handle) ([]byte, error) {
	o, err := k.lookup(h)
	if err != nil {
		return nil, err
	}
	if o.size > k.opts.Params.ApertureMappable {
		return nil, kernel.ErrNoMemory
	}
	return k.mapShadow(o)
}

func (k *Kernel) mapShadow(o *object) ([]byte, error) {
	if o.shadow == nil {
		o.shadow = make([]byte, o.size)
		if err := k.refresh(o); err != nil {
			o.shadow = nil
			return nil, err
		}
	}
	o.maps++
	return o.shadow, nil
}

// refresh copies the buffer into the shadow once the device is done.
func (k *Kernel) refresh(o *object) error {
	if err := k.waitObject(o); err != nil {
		return err
	}
	if err := k.queue.ReadBuffer(o.buf, 0, o.shadow); err != nil {
		return fmt.Errorf("halkernel: map: %w", err)
	}
	return nil
}

// Unmap implements kernel.Kernel. The shadow is written back and dropped
// with the last mapping.
func (k *Kernel) Unmap(h kernel.Handle, _ []byte) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if o.maps == 0 {
		return nil
	}
	o.maps--
	if o.maps == 0 {
		k.queue.WriteBuffer(o.buf, 0, o.shadow)
		o.shadow = nil
	}
	return nil
}

// SetCaching implements kernel.Kernel.
func (k *Kernel) SetCaching(h kernel.Handle, snoop bool) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if snoop && !k.opts.Params.HasSnoop {
		return kernel.ErrNotSupported
	}
	o.snoop = snoop
	return nil
}

func (k *Kernel) waitObject(o *object) error {
	for r := range kernel.Ring(kernel.NumRings) {
		if err := k.waitRing(r, o.pending[r]); err != nil {
			return err
		}
	}
	return nil
}

// SetDomain implements kernel.Kernel. It waits for the object on every
// ring and refreshes a mapped shadow for CPU access.
func (k *Kernel) SetDomain(h kernel.Handle, read, _ kernel.Domain) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if err := k.waitObject(o); err != nil {
		return err
	}
	if read == kernel.DomainCPU && o.shadow != nil {
		return k.refresh(o)
	}
	return nil
}

// Madvise implements kernel.Kernel. HAL memory is never reclaimed behind
// the manager's back, so every object is retained.
func (k *Kernel) Madvise(h kernel.Handle, _ bool) (bool, error) {
	if _, err := k.lookup(h); err != nil {
		return false, err
	}
	return true, nil
}

// Execute implements kernel.Kernel.
func (k *Kernel) Execute(eb *kernel.Execbuffer) error {
	batch := eb.Batch()
	if batch == nil {
		return fmt.Errorf("halkernel: execute: empty object list")
	}
	objs := make([]*object, len(eb.Objects))
	for i := range eb.Objects {
		o, err := k.lookup(eb.Objects[i].Handle)
		if err != nil {
			return fmt.Errorf("halkernel: execute: %w", err)
		}
		objs[i] = o
	}
	batchObj := objs[len(objs)-1]
	if uint64(eb.BatchLen) > batchObj.size {
		return fmt.Errorf("halkernel: execute: batch length %d beyond object size %d", eb.BatchLen, batchObj.size)
	}

	for i, o := range objs {
		if o.address == 0 {
			o.address = k.nextAddr
			k.nextAddr += o.size
		}
		eb.Objects[i].Offset = o.address
		if o.shadow != nil {
			k.queue.WriteBuffer(o.buf, 0, o.shadow)
		}
	}

	var word [4]byte
	patched := 0
	for _, r := range eb.Relocs {
		target, err := k.lookup(r.Target)
		if err != nil {
			return fmt.Errorf("halkernel: execute: relocation: %w", err)
		}
		if target.address == r.Presumed {
			continue
		}
		if uint64(r.Offset)+4 > batchObj.size {
			return fmt.Errorf("halkernel: execute: relocation offset %d beyond batch", r.Offset)
		}
		binary.LittleEndian.PutUint32(word[:], uint32(target.address)+r.Delta)
		k.queue.WriteBuffer(batchObj.buf, uint64(r.Offset), word[:])
		patched++
	}

	value := k.submitted[eb.Ring] + 1
	if err := k.queue.Submit(nil, k.fences[eb.Ring], value); err != nil {
		return fmt.Errorf("%w: submit: %w", kernel.ErrIO, err)
	}
	k.submitted[eb.Ring] = value
	for _, o := range objs {
		o.pending[eb.Ring] = value
	}
	slogger().Debug("halkernel: executed", "ring", eb.Ring, "fence", value, "objects", len(objs), "patched", patched)
	return nil
}

// Throttle implements kernel.Kernel. It waits while more than MaxInFlight
// submissions are queued on a ring.
func (k *Kernel) Throttle() error {
	for r := range kernel.Ring(kernel.NumRings) {
		if k.submitted[r] <= k.opts.MaxInFlight {
			continue
		}
		if err := k.waitRing(r, k.submitted[r]-k.opts.MaxInFlight); err != nil {
			return err
		}
	}
	return nil
}

var _ kernel.Kernel = (*Kernel)(nil)
