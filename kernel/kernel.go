// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel defines the interface between the buffer manager and the
// kernel memory/execution service that owns device memory.
//
// The manager never talks to hardware directly. Every allocation, tiling
// change, busy query and batch execution goes through a [Kernel]. Two
// implementations ship with the module:
//
//   - kernel/fake: a deterministic in-memory device used by tests and the
//     simulator
//   - kernel/halkernel: a backend on top of a gogpu/wgpu HAL device
//
// All methods are called from the manager's single owner goroutine.
// Implementations need not be safe for concurrent use.
package kernel

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Kernel errors.
var (
	// ErrBusy is the transient "device busy" signal. Execute may be retried
	// after a Throttle.
	ErrBusy = errors.New("kernel: device busy")

	// ErrIO reports that the device stopped responding. The manager treats
	// it as a permanent hang.
	ErrIO = errors.New("kernel: i/o error")

	// ErrNoMemory is returned when an allocation or mapping cannot be
	// satisfied.
	ErrNoMemory = errors.New("kernel: out of memory")

	// ErrNoDevice is returned when the backing device has gone away.
	ErrNoDevice = errors.New("kernel: no device")

	// ErrInvalidHandle is returned for an unknown or destroyed handle.
	ErrInvalidHandle = errors.New("kernel: invalid handle")

	// ErrNotSupported is returned for a capability the device lacks.
	ErrNotSupported = errors.New("kernel: operation not supported")
)

// PageSize is the granularity of every kernel allocation.
const PageSize = 4096

// Handle names one kernel memory object. Zero is never a valid handle.
type Handle uint32

// Tiling is a hardware memory layout.
type Tiling uint8

const (
	// TilingNone is a plain linear layout.
	TilingNone Tiling = iota
	// TilingX is the row-major tiling with wide, short tiles.
	TilingX
	// TilingY is the row-major tiling with narrow, tall tiles.
	TilingY
)

// NumTilings is the number of tiling modes.
const NumTilings = 3

// String returns the string representation of Tiling.
func (t Tiling) String() string {
	switch t {
	case TilingNone:
		return "none"
	case TilingX:
		return "X"
	case TilingY:
		return "Y"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Domain records which agent last had coherent access to an object.
type Domain uint8

const (
	// DomainNone means no agent holds the object.
	DomainNone Domain = iota
	// DomainCPU means the CPU caches hold the latest contents.
	DomainCPU
	// DomainGTT means the object is accessed through the device-local
	// mappable aperture.
	DomainGTT
	// DomainGPU means the device owns the object.
	DomainGPU
)

// String returns the string representation of Domain.
func (d Domain) String() string {
	switch d {
	case DomainNone:
		return "none"
	case DomainCPU:
		return "cpu"
	case DomainGTT:
		return "gtt"
	case DomainGPU:
		return "gpu"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}

// Ring is an execution engine of the device.
type Ring uint8

const (
	// RingRender is the 3D/render engine.
	RingRender Ring = iota
	// RingBlt is the copy/blit engine.
	RingBlt
)

// NumRings is the number of execution rings.
const NumRings = 2

// String returns the string representation of Ring.
func (r Ring) String() string {
	switch r {
	case RingRender:
		return "render"
	case RingBlt:
		return "blt"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Other returns the opposite ring.
func (r Ring) Other() Ring {
	return r ^ 1
}

// Engines is a bitmask of rings an object is busy on.
type Engines uint8

// EngineOf returns the mask bit for a ring.
func EngineOf(r Ring) Engines {
	return 1 << r
}

// Has reports whether the mask includes ring r.
func (e Engines) Has(r Ring) bool {
	return e&EngineOf(r) != 0
}

// Params describes the device. It is queried once when the manager starts.
type Params struct {
	// Gen is the hardware generation scaled by ten (e.g. 40, 60, 75).
	Gen int

	// ApertureTotal is the size of the device address space in bytes.
	ApertureTotal uint64

	// ApertureMappable is the CPU-mappable part of the aperture in bytes.
	ApertureMappable uint64

	// MaxObjectSize is the largest single allocation the kernel accepts.
	// Zero means unlimited.
	MaxObjectSize uint64

	// HasLLC reports a last-level cache shared between CPU and device, making
	// CPU mappings coherent without snooping.
	HasLLC bool

	// HasSnoop reports support for snooped (cache-coherent) CPU objects.
	HasSnoop bool

	// HasBLT reports a separate copy ring.
	HasBLT bool

	// HasRelaxedFencing reports that tiled objects need not be sized to a
	// power-of-two fence region.
	HasRelaxedFencing bool
}

// Access bits for relocations.
const (
	// AccessRead marks a relocation that the device reads through.
	AccessRead uint32 = 1 << iota
	// AccessWrite marks a relocation that the device writes through.
	AccessWrite
)

// Relocation asks the kernel to patch one address in the batch.
type Relocation struct {
	// Offset is the byte offset of the patched dword in the batch.
	Offset uint32

	// Target is the handle whose address is written.
	Target Handle

	// Delta is added to the target address.
	Delta uint32

	// Presumed is the address the manager assumed when it wrote the dword.
	// The kernel rewrites the dword only when the real address differs.
	Presumed uint64

	// Access holds AccessRead/AccessWrite bits.
	Access uint32
}

// ExecObject is one entry of the execution list.
type ExecObject struct {
	Handle Handle

	// Offset carries the presumed address in and the assigned address out.
	Offset uint64

	// Write reports that the batch writes to this object.
	Write bool
}

// Execbuffer is one batch submission.
type Execbuffer struct {
	// Objects lists every object referenced by the batch. The batch object
	// itself is last.
	Objects []ExecObject

	// Relocs lists the relocations applied to the batch object.
	Relocs []Relocation

	// BatchLen is the number of bytes of commands to execute.
	BatchLen uint32

	Ring Ring
}

// Batch returns the batch object entry.
func (eb *Execbuffer) Batch() *ExecObject {
	if len(eb.Objects) == 0 {
		return nil
	}
	return &eb.Objects[len(eb.Objects)-1]
}

// Kernel is the kernel memory/execution service.
type Kernel interface {
	// Params queries device parameters and capabilities.
	Params() (Params, error)

	// Create allocates a memory object of at least size bytes.
	Create(size uint64, usage gputypes.BufferUsage) (Handle, error)

	// Destroy releases a memory object.
	Destroy(h Handle) error

	// SetTiling changes the layout of an object. The kernel may refuse or
	// adjust the request; it returns the tiling and pitch now in effect.
	SetTiling(h Handle, tiling Tiling, pitch uint32) (Tiling, uint32, error)

	// Busy reports the rings still using the object without blocking.
	Busy(h Handle) (Engines, error)

	// Write copies data into the object.
	Write(h Handle, offset uint64, data []byte) error

	// Read copies the object contents into data.
	Read(h Handle, offset uint64, data []byte) error

	// MapCPU returns a persistent CPU-cached mapping of the object.
	MapCPU(h Handle) ([]byte, error)

	// MapDevice returns a persistent mapping through the mappable aperture.
	MapDevice(h Handle) ([]byte, error)

	// Unmap tears down a mapping returned by MapCPU or MapDevice.
	Unmap(h Handle, mem []byte) error

	// SetCaching switches the object between snooped and uncached.
	SetCaching(h Handle, snoop bool) error

	// SetDomain moves the object into the read/write domains. It blocks
	// until device work touching the object has retired.
	SetDomain(h Handle, read, write Domain) error

	// Madvise marks the object purgeable (dontNeed) or needed again. For a
	// needed object it reports whether the backing store survived.
	Madvise(h Handle, dontNeed bool) (retained bool, err error)

	// Execute submits a batch and fills in the assigned object offsets.
	Execute(eb *Execbuffer) error

	// Throttle waits for the oldest outstanding work when too much is
	// queued. An error reports a hung device.
	Throttle() error
}
