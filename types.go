// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"fmt"

	"github.com/gogpu/bufmgr/kernel"
)

// Re-exported kernel types so that clients rarely need to import kernel.
type (
	// Tiling is a hardware memory layout.
	Tiling = kernel.Tiling
	// Domain records which agent last had coherent access to an object.
	Domain = kernel.Domain
	// Ring is an execution engine.
	Ring = kernel.Ring
)

// Tiling modes.
const (
	TilingNone = kernel.TilingNone
	TilingX    = kernel.TilingX
	TilingY    = kernel.TilingY
)

// Domains.
const (
	DomainNone = kernel.DomainNone
	DomainCPU  = kernel.DomainCPU
	DomainGTT  = kernel.DomainGTT
	DomainGPU  = kernel.DomainGPU
)

// Rings.
const (
	RingRender = kernel.RingRender
	RingBlt    = kernel.RingBlt
)

// Relocation access bits.
const (
	AccessRead  = kernel.AccessRead
	AccessWrite = kernel.AccessWrite
)

// BO is a handle to a buffer object owned by a Manager.
//
// A BO packs an arena slot and a generation. Once the object is freed the
// slot is recycled with a new generation, so a stale BO is detected on use
// instead of aliasing a different object. The zero BO is never valid.
type BO uint64

// NoBO is the invalid buffer object.
const NoBO BO = 0

func makeBO(index, gen uint32) BO {
	return BO(uint64(gen)<<32 | uint64(index))
}

func (b BO) index() uint32 { return uint32(b) }
func (b BO) gen() uint32   { return uint32(b >> 32) }

// String returns the string representation of BO.
func (b BO) String() string {
	if b == NoBO {
		return "BO(none)"
	}
	return fmt.Sprintf("BO(%d.%d)", b.index(), b.gen())
}

// CreateFlags adjust how Acquire satisfies a request.
type CreateFlags uint32

const (
	// CreateInactive only accepts idle objects. Use it for objects the CPU
	// writes immediately.
	CreateInactive CreateFlags = 1 << iota

	// CreateExact refuses cached objects of a different tiling.
	CreateExact

	// CreateCPUMap prefers objects that already hold a CPU mapping.
	CreateCPUMap

	// CreateGTTMap prefers objects that already hold a device mapping.
	CreateGTTMap

	// CreateScanout marks an object the display engine reads.
	CreateScanout

	// CreateSnoop requests a cache-coherent (snooped) CPU object.
	CreateSnoop
)

// MapKind selects a persistent mapping type.
type MapKind uint8

const (
	mapNone MapKind = iota

	// MapCPU is a CPU-cached mapping of the object's pages.
	MapCPU

	// MapDevice is a mapping through the device's mappable aperture.
	MapDevice
)

const numMapKinds = 3

// String returns the string representation of MapKind.
func (k MapKind) String() string {
	switch k {
	case mapNone:
		return "none"
	case MapCPU:
		return "cpu"
	case MapDevice:
		return "device"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// BatchState is the state of the open batch.
type BatchState uint8

const (
	// BatchEmpty holds no commands, relocations or objects.
	BatchEmpty BatchState = iota
	// BatchAccumulating holds work that has not been submitted.
	BatchAccumulating
	// BatchFull rejected a reservation; the client must submit.
	BatchFull
)

// String returns the string representation of BatchState.
func (s BatchState) String() string {
	switch s {
	case BatchEmpty:
		return "empty"
	case BatchAccumulating:
		return "accumulating"
	case BatchFull:
		return "full"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
