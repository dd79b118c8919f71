// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fake provides an in-memory kernel.Kernel that behaves like a
// small, deterministic device.
//
// Objects are plain byte slices. Execute assigns device addresses with a
// bump allocator, applies relocations by patching the batch object exactly
// like the real kernel does when a presumed address is stale, and queues
// the submission on its ring. Work never completes on its own: tests call
// Complete or CompleteAll to play the part of the GPU, which makes every
// busy/idle transition observable and repeatable.
//
// Failures are injected with FailCreates, QueueExecErrors, Wedge and Purge.
package fake

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/bufmgr/kernel"
)

// firstAddress is where address assignment starts, so that zero is never
// a valid device address.
const firstAddress = 1 << 16

// DefaultParams describes a gen 6 class device with LLC, snooping and a
// copy ring.
func DefaultParams() kernel.Params {
	return kernel.Params{
		Gen:               60,
		ApertureTotal:     2 << 30,
		ApertureMappable:  256 << 20,
		HasLLC:            true,
		HasSnoop:          true,
		HasBLT:            true,
		HasRelaxedFencing: true,
	}
}

// Stats counts calls made into the fake kernel.
type Stats struct {
	Creates       int
	Destroys      int
	SetTilings    int
	Writes        int
	Reads         int
	Maps          int
	Unmaps        int
	SetDomains    int
	Executes      int
	Throttles     int
	RelocsPatched int
	Purged        int
}

type object struct {
	mem       []byte
	usage     gputypes.BufferUsage
	tiling    kernel.Tiling
	pitch     uint32
	snoop     bool
	purgeable bool
	purged    bool
	address   uint64
	pending   [kernel.NumRings]int
	maps      int
}

type submission struct {
	handles []kernel.Handle
}

// Kernel is the fake device. The zero value is not usable; call New.
type Kernel struct {
	params   kernel.Params
	objects  map[kernel.Handle]*object
	next     kernel.Handle
	nextAddr uint64
	queues   [kernel.NumRings][]submission

	memLimit    uint64
	memUsed     uint64
	failCreates int
	execErrs    []error
	wedged      bool
	noYTiling   bool

	stats Stats
}

// New creates a fake device with the given parameters.
func New(params kernel.Params) *Kernel {
	return &Kernel{
		params:   params,
		objects:  make(map[kernel.Handle]*object),
		next:     1,
		nextAddr: firstAddress,
	}
}

// Stats returns the call counters.
func (k *Kernel) Stats() Stats {
	return k.stats
}

// SetMemoryLimit caps the total bytes of live objects. Zero removes the cap.
func (k *Kernel) SetMemoryLimit(bytes uint64) {
	k.memLimit = bytes
}

// FailCreates makes the next n Create calls fail with ErrNoMemory.
func (k *Kernel) FailCreates(n int) {
	k.failCreates = n
}

// QueueExecErrors makes the next Execute calls return errs in order.
func (k *Kernel) QueueExecErrors(errs ...error) {
	k.execErrs = append(k.execErrs, errs...)
}

// RefuseYTiling makes SetTiling downgrade Y requests to X.
func (k *Kernel) RefuseYTiling(refuse bool) {
	k.noYTiling = refuse
}

// Wedge simulates a hung device: Execute and Throttle fail with ErrIO.
func (k *Kernel) Wedge() {
	k.wedged = true
}

// Live returns the number of live objects.
func (k *Kernel) Live() int {
	return len(k.objects)
}

// Exists reports whether h names a live object.
func (k *Kernel) Exists(h kernel.Handle) bool {
	_, ok := k.objects[h]
	return ok
}

// Memory returns the backing bytes of an object, or nil.
func (k *Kernel) Memory(h kernel.Handle) []byte {
	if o, ok := k.objects[h]; ok {
		return o.mem
	}
	return nil
}

// Address returns the device address assigned to an object, or zero.
func (k *Kernel) Address(h kernel.Handle) uint64 {
	if o, ok := k.objects[h]; ok {
		return o.address
	}
	return 0
}

// Tiling returns the tiling and pitch of an object.
func (k *Kernel) Tiling(h kernel.Handle) (kernel.Tiling, uint32) {
	if o, ok := k.objects[h]; ok {
		return o.tiling, o.pitch
	}
	return kernel.TilingNone, 0
}

// Snooped reports whether an object uses snooped caching.
func (k *Kernel) Snooped(h kernel.Handle) bool {
	o, ok := k.objects[h]
	return ok && o.snoop
}

// Purgeable reports whether an object is marked purgeable.
func (k *Kernel) Purgeable(h kernel.Handle) bool {
	o, ok := k.objects[h]
	return ok && o.purgeable
}

// Usage returns the usage flags an object was created with.
func (k *Kernel) Usage(h kernel.Handle) gputypes.BufferUsage {
	if o, ok := k.objects[h]; ok {
		return o.usage
	}
	return 0
}

// Outstanding returns the number of submissions queued on a ring.
func (k *Kernel) Outstanding(r kernel.Ring) int {
	return len(k.queues[r])
}

// Complete retires the n oldest submissions on a ring.
func (k *Kernel) Complete(r kernel.Ring, n int) {
	for ; n > 0 && len(k.queues[r]) > 0; n-- {
		sub := k.queues[r][0]
		k.queues[r] = k.queues[r][1:]
		for _, h := range sub.handles {
			if o, ok := k.objects[h]; ok && o.pending[r] > 0 {
				o.pending[r]--
			}
		}
	}
}

// CompleteAll retires every queued submission.
func (k *Kernel) CompleteAll() {
	for r := range kernel.Ring(kernel.NumRings) {
		k.Complete(r, len(k.queues[r]))
	}
}

// Purge discards the backing store of every idle purgeable object, as the
// kernel does under memory pressure. It returns the number purged.
func (k *Kernel) Purge() int {
	n := 0
	for _, o := range k.objects {
		if !o.purgeable || o.purged || o.busy() != 0 {
			continue
		}
		o.purged = true
		clear(o.mem)
		n++
	}
	k.stats.Purged += n
	return n
}

func (o *object) busy() kernel.Engines {
	var e kernel.Engines
	for r, n := range o.pending {
		if n > 0 {
			e |= kernel.EngineOf(kernel.Ring(r))
		}
	}
	return e
}

func (k *Kernel) lookup(h kernel.Handle) (*object, error) {
	o, ok := k.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", kernel.ErrInvalidHandle, h)
	}
	return o, nil
}

// Params implements kernel.Kernel.
func (k *Kernel) Params() (kernel.Params, error) {
	return k.params, nil
}

// Create implements kernel.Kernel.
func (k *Kernel) Create(size uint64, usage gputypes.BufferUsage) (kernel.Handle, error) {
	if size == 0 {
		return 0, fmt.Errorf("fake: create: zero size")
	}
	size = (size + kernel.PageSize - 1) &^ (kernel.PageSize - 1)

	if k.failCreates > 0 {
		k.failCreates--
		return 0, kernel.ErrNoMemory
	}
	if k.params.MaxObjectSize != 0 && size > k.params.MaxObjectSize {
		return 0, kernel.ErrNoMemory
	}
	if k.memLimit != 0 && k.memUsed+size > k.memLimit {
		return 0, kernel.ErrNoMemory
	}

	h := k.next
	k.next++
	k.objects[h] = &object{mem: make([]byte, size), usage: usage}
	k.memUsed += size
	k.stats.Creates++
	return h, nil
}

// Destroy implements kernel.Kernel.
func (k *Kernel) Destroy(h kernel.Handle) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	k.memUsed -= uint64(len(o.mem))
	delete(k.objects, h)
	k.stats.Destroys++
	return nil
}

// SetTiling implements kernel.Kernel.
func (k *Kernel) SetTiling(h kernel.Handle, t kernel.Tiling, pitch uint32) (kernel.Tiling, uint32, error) {
	o, err := k.lookup(h)
	if err != nil {
		return kernel.TilingNone, 0, err
	}
	k.stats.SetTilings++
	if t == kernel.TilingY && k.noYTiling {
		t = kernel.TilingX
	}
	if t == kernel.TilingNone {
		pitch = 0
	}
	o.tiling = t
	o.pitch = pitch
	return o.tiling, o.pitch, nil
}

// Busy implements kernel.Kernel.
func (k *Kernel) Busy(h kernel.Handle) (kernel.Engines, error) {
	o, err := k.lookup(h)
	if err != nil {
		return 0, err
	}
	return o.busy(), nil
}

// Write implements kernel.Kernel.
func (k *Kernel) Write(h kernel.Handle, offset uint64, data []byte) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(o.mem)) {
		return fmt.Errorf("fake: write [%d,%d) beyond object size %d", offset, offset+uint64(len(data)), len(o.mem))
	}
	copy(o.mem[offset:], data)
	k.stats.Writes++
	return nil
}

// Read implements kernel.Kernel.
func (k *Kernel) Read(h kernel.Handle, offset uint64, data []byte) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(o.mem)) {
		return fmt.Errorf("fake: read [%d,%d) beyond object size %d", offset, offset+uint64(len(data)), len(o.mem))
	}
	copy(data, o.mem[offset:])
	k.stats.Reads++
	return nil
}

// MapCPU implements kernel.Kernel.
func (k *Kernel) MapCPU(h kernel.Handle) ([]byte, error) {
	o, err := k.lookup(h)
	if err != nil {
		return nil, err
	}
	o.maps++
	k.stats.Maps++
	return o.mem, nil
}

// MapDevice implements kernel.Kernel.
func (k *Kernel) MapDevice(h kernel.Handle) ([]byte, error) {
	o, err := k.lookup(h)
	if err != nil {
		return nil, err
	}
	if uint64(len(o.mem)) > k.params.ApertureMappable {
		return nil, kernel.ErrNoMemory
	}
	o.maps++
	k.stats.Maps++
	return o.mem, nil
}

// Unmap implements kernel.Kernel.
func (k *Kernel) Unmap(h kernel.Handle, _ []byte) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if o.maps > 0 {
		o.maps--
	}
	k.stats.Unmaps++
	return nil
}

// Mappings returns the number of live mappings of an object.
func (k *Kernel) Mappings(h kernel.Handle) int {
	if o, ok := k.objects[h]; ok {
		return o.maps
	}
	return 0
}

// SetCaching implements kernel.Kernel.
func (k *Kernel) SetCaching(h kernel.Handle, snoop bool) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	if snoop && !k.params.HasSnoop {
		return kernel.ErrNotSupported
	}
	o.snoop = snoop
	return nil
}

// SetDomain implements kernel.Kernel. It stands in for the blocking wait
// by retiring every submission up to the last one that uses the object.
func (k *Kernel) SetDomain(h kernel.Handle, _, _ kernel.Domain) error {
	o, err := k.lookup(h)
	if err != nil {
		return err
	}
	k.stats.SetDomains++
	for r := range kernel.Ring(kernel.NumRings) {
		last := -1
		for i, sub := range k.queues[r] {
			for _, sh := range sub.handles {
				if sh == h {
					last = i
				}
			}
		}
		k.Complete(r, last+1)
	}
	if o.busy() != 0 {
		return fmt.Errorf("fake: object %d still busy after domain change", h)
	}
	return nil
}

// Madvise implements kernel.Kernel.
func (k *Kernel) Madvise(h kernel.Handle, dontNeed bool) (bool, error) {
	o, err := k.lookup(h)
	if err != nil {
		return false, err
	}
	o.purgeable = dontNeed
	return !o.purged, nil
}

// Execute implements kernel.Kernel.
func (k *Kernel) Execute(eb *kernel.Execbuffer) error {
	if k.wedged {
		return kernel.ErrIO
	}
	if len(k.execErrs) > 0 {
		err := k.execErrs[0]
		k.execErrs = k.execErrs[1:]
		if err != nil {
			return err
		}
	}
	batch := eb.Batch()
	if batch == nil {
		return fmt.Errorf("fake: execute: empty object list")
	}

	objs := make([]*object, len(eb.Objects))
	for i := range eb.Objects {
		o, err := k.lookup(eb.Objects[i].Handle)
		if err != nil {
			return fmt.Errorf("fake: execute: %w", err)
		}
		if o.purged {
			return fmt.Errorf("fake: execute: object %d was purged", eb.Objects[i].Handle)
		}
		objs[i] = o
	}
	batchObj := objs[len(objs)-1]
	if uint64(eb.BatchLen) > uint64(len(batchObj.mem)) {
		return fmt.Errorf("fake: execute: batch length %d beyond object size %d", eb.BatchLen, len(batchObj.mem))
	}

	for i, o := range objs {
		if o.address == 0 {
			o.address = k.nextAddr
			k.nextAddr += uint64(len(o.mem))
		}
		eb.Objects[i].Offset = o.address
	}

	for _, r := range eb.Relocs {
		target, err := k.lookup(r.Target)
		if err != nil {
			return fmt.Errorf("fake: execute: relocation: %w", err)
		}
		if target.address == r.Presumed {
			continue
		}
		if uint64(r.Offset)+4 > uint64(len(batchObj.mem)) {
			return fmt.Errorf("fake: execute: relocation offset %d beyond batch", r.Offset)
		}
		binary.LittleEndian.PutUint32(batchObj.mem[r.Offset:], uint32(target.address)+r.Delta)
		k.stats.RelocsPatched++
	}

	sub := submission{handles: make([]kernel.Handle, len(eb.Objects))}
	for i := range eb.Objects {
		sub.handles[i] = eb.Objects[i].Handle
		objs[i].pending[eb.Ring]++
	}
	k.queues[eb.Ring] = append(k.queues[eb.Ring], sub)
	k.stats.Executes++
	return nil
}

// Throttle implements kernel.Kernel.
func (k *Kernel) Throttle() error {
	k.stats.Throttles++
	if k.wedged {
		return kernel.ErrIO
	}
	return nil
}

var _ kernel.Kernel = (*Kernel)(nil)
