// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tiling computes the layout of 2D surfaces: pitch, padded height,
// allocation size and the tiling mode a surface should use on a given
// hardware generation.
//
// The rules are table driven by generation:
//
//   - before gen 3, Y tiling is unavailable and tiles are 128x16 bytes
//   - from gen 3, X tiles are 512x8 and Y tiles are 128x32 bytes
//   - before gen 4 without relaxed fencing, tiled pitches are powers of two
//     and tiled objects occupy a power-of-two fence region
//
// A Policy is a value type; it is built once from the device parameters.
package tiling

import (
	"errors"
	"fmt"

	"github.com/gogpu/bufmgr/kernel"
)

// Geometry errors.
var (
	// ErrInvalidSize is returned for non-positive dimensions or depth.
	ErrInvalidSize = errors.New("tiling: invalid surface size")

	// ErrPitchTooLarge is returned when even a linear layout exceeds the
	// maximum pitch.
	ErrPitchTooLarge = errors.New("tiling: pitch exceeds hardware limit")
)

// Flags adjust layout decisions.
type Flags uint32

const (
	// Scanout marks a surface the display engine reads. Linear scanout
	// pitches are aligned to 64 bytes.
	Scanout Flags = 1 << iota

	// Exact keeps the requested tiling instead of letting the policy pick.
	Exact
)

const (
	scanoutAlign = 64
	linearAlign  = 4
	linearRows   = 2

	// Minimum fence regions before gen 4.
	minFenceGen2 = 512 * 1024
	minFenceGen3 = 1024 * 1024
)

// Geometry is the computed layout of one surface.
type Geometry struct {
	Tiling kernel.Tiling

	// Pitch is the number of bytes per row.
	Pitch int

	// Rows is the height padded to whole tiles.
	Rows int

	// Size is the allocation size in bytes, a whole number of pages.
	Size int
}

// Pages returns the allocation size in pages.
func (g Geometry) Pages() int {
	return g.Size / kernel.PageSize
}

// String returns a compact description of the geometry.
func (g Geometry) String() string {
	return fmt.Sprintf("Geometry[%s pitch=%d rows=%d size=%d]", g.Tiling, g.Pitch, g.Rows, g.Size)
}

// Policy holds the layout rules of one device.
type Policy struct {
	gen            int
	relaxedFencing bool
}

// NewPolicy builds the policy for a device.
func NewPolicy(p kernel.Params) Policy {
	return Policy{gen: p.Gen, relaxedFencing: p.HasRelaxedFencing || p.Gen >= 40}
}

// Gen returns the hardware generation the policy was built for.
func (p Policy) Gen() int {
	return p.gen
}

// TileSize returns the tile width in bytes, height in rows and total bytes
// for a tiling mode.
func (p Policy) TileSize(t kernel.Tiling) (width, height, size int) {
	switch t {
	case kernel.TilingX:
		if p.gen < 30 {
			return 128, 16, 2048
		}
		return 512, 8, 4096
	case kernel.TilingY:
		if p.gen < 30 {
			return 128, 16, 2048
		}
		return 128, 32, 4096
	default:
		return linearAlign, linearRows, linearAlign * linearRows
	}
}

// SupportsY reports whether the generation has Y tiling.
func (p Policy) SupportsY() bool {
	return p.gen >= 30
}

// MaxPitch returns the largest pitch for a tiling mode.
func (p Policy) MaxPitch(t kernel.Tiling) int {
	if t == kernel.TilingNone {
		if p.gen < 40 {
			return 32 * 1024
		}
		return 256 * 1024
	}
	switch {
	case p.gen < 40:
		return 8 * 1024
	case p.gen < 70:
		return 32 * 1024
	default:
		return 128 * 1024
	}
}

// MaxSurfaceDim returns the largest width or height the samplers and
// render targets accept.
func (p Policy) MaxSurfaceDim() int {
	switch {
	case p.gen < 30:
		return 2048
	case p.gen < 40:
		return 4096
	case p.gen < 70:
		return 8192
	default:
		return 16384
	}
}

// Fits reports whether a surface is within the hardware dimension limits.
func (p Policy) Fits(width, height int) bool {
	limit := p.MaxSurfaceDim()
	return width <= limit && height <= limit
}

// Choose picks the tiling for a surface. Without Exact, small surfaces and
// surfaces too wide for a tiled pitch are demoted to linear, and Y is
// demoted to X where unsupported.
func (p Policy) Choose(width, height, bpp int, requested kernel.Tiling, flags Flags) kernel.Tiling {
	if requested == kernel.TilingY && !p.SupportsY() {
		requested = kernel.TilingX
	}
	if flags&Exact != 0 || requested == kernel.TilingNone {
		return requested
	}

	if flags&Scanout != 0 && requested == kernel.TilingY {
		requested = kernel.TilingX
	}

	tw, th, _ := p.TileSize(requested)
	rowBytes := width * bpp / 8
	if rowBytes > p.MaxPitch(requested) {
		return kernel.TilingNone
	}
	if height <= 1 || (rowBytes <= tw/2 && height <= th) {
		return kernel.TilingNone
	}
	return requested
}

// Layout computes the geometry of a width x height surface of bpp bits per
// pixel in the given tiling. It falls back to linear when the tiled pitch
// would exceed the limit.
func (p Policy) Layout(width, height, bpp int, t kernel.Tiling, flags Flags) (Geometry, error) {
	if width <= 0 || height <= 0 || bpp <= 0 || bpp%8 != 0 {
		return Geometry{}, fmt.Errorf("%w: %dx%d@%d", ErrInvalidSize, width, height, bpp)
	}
	if t == kernel.TilingY && !p.SupportsY() {
		t = kernel.TilingX
	}

	pitch := p.pitch(width*bpp/8, t, flags)
	if t != kernel.TilingNone && pitch > p.MaxPitch(t) {
		t = kernel.TilingNone
		pitch = p.pitch(width*bpp/8, t, flags)
	}
	if pitch > p.MaxPitch(t) {
		return Geometry{}, fmt.Errorf("%w: pitch %d > %d", ErrPitchTooLarge, pitch, p.MaxPitch(t))
	}

	_, th, _ := p.TileSize(t)
	rows := alignUp(height, th)
	size := alignUp(pitch*rows, kernel.PageSize)
	if t != kernel.TilingNone && !p.relaxedFencing {
		size = p.fenceSize(size)
	}

	return Geometry{Tiling: t, Pitch: pitch, Rows: rows, Size: size}, nil
}

// FenceSize returns the size of the fence region covering size bytes of a
// tiled object.
func (p Policy) FenceSize(size int) int {
	if p.relaxedFencing {
		return alignUp(size, kernel.PageSize)
	}
	return p.fenceSize(size)
}

func (p Policy) pitch(rowBytes int, t kernel.Tiling, flags Flags) int {
	tw, _, _ := p.TileSize(t)
	if t == kernel.TilingNone {
		align := tw
		if flags&Scanout != 0 {
			align = scanoutAlign
		}
		return alignUp(rowBytes, align)
	}
	pitch := alignUp(rowBytes, tw)
	if !p.relaxedFencing {
		pitch = nextPow2(pitch)
	}
	return pitch
}

func (p Policy) fenceSize(size int) int {
	fence := minFenceGen3
	if p.gen < 30 {
		fence = minFenceGen2
	}
	for fence < size {
		fence <<= 1
	}
	return fence
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

func nextPow2(v int) int {
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}
