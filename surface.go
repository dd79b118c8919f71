// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"fmt"

	"github.com/gogpu/bufmgr/kernel"
	"github.com/gogpu/bufmgr/tiling"
)

// Surface is a 2D buffer object with its computed layout.
type Surface struct {
	BO BO
	tiling.Geometry

	Width  int
	Height int
	BPP    int

	// Oversized reports that the surface exceeds the device's render and
	// sampler limits. Drawing to it goes through a Redirect.
	Oversized bool
}

// CreateSurface allocates a width x height surface of bpp bits per pixel.
// The tiling is a hint resolved by the device's tiling policy; oversized
// surfaces are always linear so the CPU can copy them piecewise.
func (m *Manager) CreateSurface(width, height, bpp int, t Tiling, flags tiling.Flags) (Surface, error) {
	if m.closed {
		return Surface{}, ErrClosed
	}
	oversized := !m.policy.Fits(width, height)
	if oversized {
		t = TilingNone
	} else {
		t = m.policy.Choose(width, height, bpp, t, flags)
	}
	geo, err := m.policy.Layout(width, height, bpp, t, flags)
	if err != nil {
		return Surface{}, err
	}

	var cflags CreateFlags
	if flags&tiling.Scanout != 0 {
		cflags |= CreateScanout
	}
	if flags&tiling.Exact != 0 {
		cflags |= CreateExact
	}
	o, err := m.acquire(allocRequest{
		pages:  geo.Pages(),
		tiling: geo.Tiling,
		pitch:  geo.Pitch,
		flags:  cflags,
	})
	if err != nil {
		return Surface{}, err
	}
	if o.tiling != geo.Tiling {
		geo, err = m.grantedLayout(o, width, height, bpp, flags)
		if err != nil {
			m.unref(o)
			return Surface{}, err
		}
	}
	if o.tiling == TilingNone {
		o.pitch = geo.Pitch
	}
	o.size = geo.Size

	Logger().Debug("bufmgr: surface",
		"bo", o.ref(), "width", width, "height", height, "bpp", bpp,
		"tiling", geo.Tiling, "pitch", geo.Pitch, "oversized", oversized)
	return Surface{
		BO:        o.ref(),
		Geometry:  geo,
		Width:     width,
		Height:    height,
		BPP:       bpp,
		Oversized: oversized,
	}, nil
}

// grantedLayout recomputes a surface layout for the tiling the kernel gave
// o instead of the one asked for. If that layout does not fit the object,
// the object is made linear.
func (m *Manager) grantedLayout(o *bo, width, height, bpp int, flags tiling.Flags) (tiling.Geometry, error) {
	room := o.pages * kernel.PageSize
	if g, err := m.policy.Layout(width, height, bpp, o.tiling, flags|tiling.Exact); err == nil && g.Tiling == o.tiling && g.Size <= room {
		return g, nil
	}
	if o.tiling != TilingNone {
		Logger().Debug("bufmgr: granted tiling does not fit, using linear", "bo", o.ref(), "tiling", o.tiling, "pages", o.pages)
		m.retile(o, TilingNone, 0)
		if o.tiling != TilingNone {
			return tiling.Geometry{}, fmt.Errorf("surface %dx%d: kernel kept %v tiling", width, height, o.tiling)
		}
	}
	g, err := m.policy.Layout(width, height, bpp, TilingNone, flags)
	if err != nil {
		return tiling.Geometry{}, err
	}
	if g.Size > room {
		return tiling.Geometry{}, fmt.Errorf("%w: linear %dx%d needs %d bytes, object has %d", ErrInvalidSize, width, height, g.Size, room)
	}
	return g, nil
}

// Redirect substitutes a hardware-sized linear intermediate for a region of
// an oversized surface. The region contents are copied in when the
// redirect is created and copied back by Finish.
type Redirect struct {
	m      *Manager
	target Surface

	// Surface is the intermediate clients draw into.
	Surface Surface

	// X and Y are the origin of the region in the target.
	X, Y int

	done bool
}

// Redirect prepares drawing to the w x h region at (x, y) of an oversized
// surface. The region must fit the hardware limits.
func (m *Manager) Redirect(s Surface, x, y, w, h int) (*Redirect, error) {
	if !s.Oversized {
		return nil, ErrNoRedirect
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > s.Width || y+h > s.Height || !m.policy.Fits(w, h) {
		return nil, fmt.Errorf("%w: region %dx%d at (%d,%d) of %dx%d", ErrInvalidSize, w, h, x, y, s.Width, s.Height)
	}

	tmp, err := m.CreateSurface(w, h, s.BPP, TilingNone, 0)
	if err != nil {
		return nil, fmt.Errorf("redirect intermediate: %w", err)
	}
	r := &Redirect{m: m, target: s, Surface: tmp, X: x, Y: y}
	if err := r.copyRows(s, tmp, x, y, 0, 0); err != nil {
		if derr := m.Destroy(tmp.BO); derr != nil {
			Logger().Warn("bufmgr: destroy redirect intermediate failed", "bo", tmp.BO, "err", derr)
		}
		return nil, err
	}
	Logger().Debug("bufmgr: redirect", "target", s.BO, "region", fmt.Sprintf("%dx%d+%d+%d", w, h, x, y))
	return r, nil
}

// Finish submits pending work on the intermediate, copies it back into the
// target region and releases the intermediate.
func (r *Redirect) Finish() error {
	if r.done {
		return nil
	}
	r.done = true
	m := r.m
	defer func() {
		if err := m.Release(r.Surface.BO); err != nil {
			Logger().Warn("bufmgr: release redirect intermediate failed", "bo", r.Surface.BO, "err", err)
		}
	}()

	if o, err := m.get(r.Surface.BO); err == nil && o.inBatch() {
		if err := m.Submit(); err != nil {
			return err
		}
	}
	return r.copyRows(r.Surface, r.target, 0, 0, r.X, r.Y)
}

// copyRows copies the intermediate-sized rectangle from src at (sx, sy) to
// dst at (dx, dy) through the CPU, waiting for the device on both.
func (r *Redirect) copyRows(src, dst Surface, sx, sy, dx, dy int) error {
	m := r.m
	if err := m.SyncCPU(src.BO, false); err != nil {
		return err
	}
	if err := m.SyncCPU(dst.BO, true); err != nil {
		return err
	}
	cpp := src.BPP / 8
	rowBytes := r.Surface.Width * cpp
	row := make([]byte, rowBytes)
	for i := range r.Surface.Height {
		if err := m.Read(src.BO, (sy+i)*src.Pitch+sx*cpp, row); err != nil {
			return err
		}
		if err := m.Write(dst.BO, (dy+i)*dst.Pitch+dx*cpp, row); err != nil {
			return err
		}
	}
	return nil
}
